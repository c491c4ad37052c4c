package api

import (
	"net/http"

	"github.com/ashureev/cluehunt/internal/activity"
	"github.com/ashureev/cluehunt/internal/hunt"
	"github.com/ashureev/cluehunt/internal/identity"
)

// StreamCloser closes live streams of a deleted activity.
type StreamCloser interface {
	CloseActivity(activityID int64)
}

// AuthoringHandler serves the teacher endpoints.
type AuthoringHandler struct {
	svc     *activity.Service
	streams StreamCloser
}

// NewAuthoringHandler creates a new authoring handler. streams may be nil.
func NewAuthoringHandler(svc *activity.Service, streams StreamCloser) *AuthoringHandler {
	return &AuthoringHandler{svc: svc, streams: streams}
}

type createActivityRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Intro    string `json:"intro" validate:"max=10000"`
	MaxGrade int    `json:"max_grade" validate:"gte=0,lte=1000"`
}

// CreateActivity creates an empty activity.
func (h *AuthoringHandler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	var req createActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.svc.CreateActivity(r.Context(), identity.UserFromContext(r.Context()), activity.ActivityInput{
		Name:     req.Name,
		Intro:    req.Intro,
		MaxGrade: req.MaxGrade,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, a)
}

// DeleteActivity removes an activity and closes its live streams.
func (h *AuthoringHandler) DeleteActivity(w http.ResponseWriter, r *http.Request) {
	activityID, ok := pathID(r, "activityID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	if err := h.svc.DeleteActivity(r.Context(), identity.UserFromContext(r.Context()), activityID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if h.streams != nil {
		h.streams.CloseActivity(activityID)
	}
	w.WriteHeader(http.StatusNoContent)
}

type questionRequest struct {
	QuestionText string `json:"question_text" validate:"required,max=10000"`
	AnswerText   string `json:"answer_text" validate:"required,max=1000"`
}

type questionResponse struct {
	ID           int64  `json:"id"`
	ActivityID   int64  `json:"activity_id"`
	QuestionText string `json:"question_text"`
	AnswerText   string `json:"answer_text"`
}

// SaveQuestion sets the question and answer of an activity.
func (h *AuthoringHandler) SaveQuestion(w http.ResponseWriter, r *http.Request) {
	activityID, ok := pathID(r, "activityID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	var req questionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := h.svc.SaveQuestion(r.Context(), identity.UserFromContext(r.Context()), activityID, req.QuestionText, req.AnswerText)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Authors see the answer; learners never do.
	JSON(w, http.StatusOK, questionResponse{
		ID:           q.ID,
		ActivityID:   q.ActivityID,
		QuestionText: q.QuestionText,
		AnswerText:   q.AnswerText,
	})
}

type clueInput struct {
	ID           wireID `json:"id"`
	Text         string `json:"text" validate:"required,max=5000"`
	DelaySeconds int64  `json:"delay_seconds" validate:"gte=0,lte=604800"`
}

type replaceCluesRequest struct {
	Clues []clueInput `json:"clues" validate:"max=100,dive"`
}

// ReplaceClues stores the submitted list as the activity's clues, numbered
// in the order given.
func (h *AuthoringHandler) ReplaceClues(w http.ResponseWriter, r *http.Request) {
	activityID, ok := pathID(r, "activityID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	var req replaceCluesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	inputs := make([]hunt.ClueInput, len(req.Clues))
	for i, c := range req.Clues {
		inputs[i] = hunt.ClueInput{ID: int64(c.ID), Text: c.Text, DelaySeconds: c.DelaySeconds}
	}
	clues, err := h.svc.ReplaceClues(r.Context(), identity.UserFromContext(r.Context()), activityID, inputs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, nonNil(clues))
}

// RemoveClue deletes one clue and returns the renumbered remainder.
func (h *AuthoringHandler) RemoveClue(w http.ResponseWriter, r *http.Request) {
	clueID, ok := pathID(r, "clueID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid clue id")
		return
	}
	clues, err := h.svc.RemoveClue(r.Context(), identity.UserFromContext(r.Context()), clueID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, nonNil(clues))
}

// ListAttempts returns every attempt on an activity.
func (h *AuthoringHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	activityID, ok := pathID(r, "activityID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	attempts, err := h.svc.ListAttempts(r.Context(), identity.UserFromContext(r.Context()), activityID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, nonNil(attempts))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
