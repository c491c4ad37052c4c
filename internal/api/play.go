package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/cluehunt/internal/activity"
	"github.com/ashureev/cluehunt/internal/hunt"
	"github.com/ashureev/cluehunt/internal/identity"
)

// PlayHandler serves the learner endpoints.
type PlayHandler struct {
	svc *activity.Service
}

// NewPlayHandler creates a new play handler.
func NewPlayHandler(svc *activity.Service) *PlayHandler {
	return &PlayHandler{svc: svc}
}

type clueView struct {
	ID           int64  `json:"id"`
	Order        int    `json:"order"`
	DelaySeconds int64  `json:"delay_seconds"`
	Revealed     bool   `json:"revealed"`
	Text         string `json:"text,omitempty"`
}

type activityView struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Intro        string     `json:"intro,omitempty"`
	QuestionID   int64      `json:"question_id"`
	QuestionText string     `json:"question_text"`
	StartedAt    int64      `json:"started_at_ms"`
	ServerNow    int64      `json:"server_now_ms"`
	Clues        []clueView `json:"clues"`
	Revealed     int        `json:"revealed_count"`
	Total        int        `json:"total"`
	UntilNextMS  int64      `json:"until_next_ms"`
	Complete     bool       `json:"complete"`
	Solved       bool       `json:"solved"`
	WaitMS       int64      `json:"wait_ms"`
	WaitText     string     `json:"wait_text,omitempty"`
	CooldownMS   int64      `json:"cooldown_ms"`
}

// View returns the activity as the caller currently sees it.
func (h *PlayHandler) View(w http.ResponseWriter, r *http.Request) {
	activityID, ok := pathID(r, "activityID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid activity id")
		return
	}

	view, err := h.svc.View(r.Context(), identity.UserIDFromContext(r.Context()), activityID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := activityView{
		ID:           view.Activity.ID,
		Name:         view.Activity.Name,
		Intro:        view.Activity.Intro,
		QuestionID:   view.QuestionID,
		QuestionText: view.QuestionText,
		StartedAt:    view.StartedAt.UnixMilli(),
		ServerNow:    view.Now.UnixMilli(),
		Clues:        make([]clueView, len(view.Clues)),
		Revealed:     view.Reveal.RevealedCount,
		Total:        view.Reveal.Total,
		UntilNextMS:  view.Reveal.UntilNext.Milliseconds(),
		Complete:     view.Reveal.Complete(),
		Solved:       view.Solved,
		WaitMS:       view.Wait.Milliseconds(),
		CooldownMS:   h.svc.Cooldown().Milliseconds(),
	}
	if view.Wait > 0 {
		resp.WaitText = hunt.FormatWait(view.Wait)
	}
	for i, c := range view.Clues {
		resp.Clues[i] = clueView(c)
	}
	JSON(w, http.StatusOK, resp)
}

type answerRequest struct {
	Answer string `json:"answer" validate:"required,max=1000"`
}

type answerResponse struct {
	Status        string `json:"status"`
	Correct       bool   `json:"correct"`
	Refresh       bool   `json:"refresh,omitempty"`
	RemainingMS   int64  `json:"remaining_ms,omitempty"`
	RemainingText string `json:"remaining_text,omitempty"`
	Message       string `json:"message"`
}

// Submit grades an answer. Throttled submissions get 429.
func (h *PlayHandler) Submit(w http.ResponseWriter, r *http.Request) {
	activityID, ok := pathID(r, "activityID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Submit(r.Context(), identity.UserIDFromContext(r.Context()), activityID, req.Answer)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := answerResponse{Status: res.Status.String(), Correct: res.Correct, Refresh: res.Refresh}
	switch res.Status {
	case hunt.Throttled:
		resp.RemainingMS = res.Remaining.Milliseconds()
		resp.RemainingText = res.RemainingText
		resp.Message = "Please wait " + res.RemainingText + " before answering again."
		w.Header().Set("Retry-After", strconv.FormatInt(int64((res.Remaining+time.Second-1)/time.Second), 10))
		JSON(w, http.StatusTooManyRequests, resp)
		return
	case hunt.AlreadySolved:
		resp.Message = "You have already answered this question correctly."
	default:
		if res.Correct {
			resp.Message = "Correct!"
		} else {
			resp.Message = "Incorrect answer, try again."
		}
	}
	JSON(w, http.StatusOK, resp)
}

type cluesRequest struct {
	QuestionID wireID   `json:"questionId" validate:"required"`
	ClueIDs    []wireID `json:"clueIds" validate:"max=500"`
}

// Clues returns the texts of the requested clues that are revealed for the
// caller. Only POST is allowed.
func (h *PlayHandler) Clues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req cluesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	ids := make([]int64, len(req.ClueIDs))
	for i, id := range req.ClueIDs {
		ids[i] = int64(id)
	}
	clues, err := h.svc.RevealedClues(r.Context(), identity.UserIDFromContext(r.Context()), int64(req.QuestionID), ids)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, clues)
}
