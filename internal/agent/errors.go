// ABOUTME: JSON error responses of the agent routes
// ABOUTME: Forbidden outcomes answer 403 with their payload, validation 400, the rest 500

package agent

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// apiError is one entry of an error response.
type apiError struct {
	Name   string         `json:"name"`
	Detail string         `json:"detail"`
	Status int            `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

func (a *Agent) writeError(w http.ResponseWriter, caller *toolkit.Caller, err error) {
	var forbidden *toolkit.ForbiddenError
	var e apiError

	switch {
	case errors.As(err, &forbidden):
		e = apiError{Name: forbidden.Name, Detail: forbidden.Message, Status: http.StatusForbidden, Data: forbidden.Data}
	case errors.Is(err, toolkit.ErrValidation):
		e = apiError{Name: "ValidationError", Detail: err.Error(), Status: http.StatusBadRequest}
	case errors.Is(err, errNotFound):
		e = apiError{Name: "NotFoundError", Detail: "Not found", Status: http.StatusNotFound}
	default:
		a.logger.Error("request failed", "error", err, "request_id", caller.RequestID)
		e = apiError{Name: "InternalServerError", Detail: "Unexpected error", Status: http.StatusInternalServerError}
	}

	writeJSON(w, e.Status, map[string]any{"errors": []apiError{e}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
