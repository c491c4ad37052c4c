// Package api provides HTTP handlers for the clue hunt API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ashureev/cluehunt/internal/activity"
	"github.com/ashureev/cluehunt/internal/hunt"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var errInvalidID = errors.New("invalid identifier")

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON reads a JSON body into dst and validates its struct tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		if errors.Is(err, errInvalidID) {
			return errInvalidID
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// wireID is an identifier that may arrive as a JSON number or string.
// null and 0 leave it unset; anything else that is not a positive integer
// is rejected.
type wireID int64

func (id *wireID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "0" {
		*id = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	n, ok := hunt.ParseID(s)
	if !ok {
		return errInvalidID
	}
	*id = wireID(n)
	return nil
}

// pathID parses a positive id from a chi URL parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	return hunt.ParseID(chi.URLParam(r, name))
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, activity.ErrNotFound):
		Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, activity.ErrForbidden):
		Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, activity.ErrInvalidInput):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
