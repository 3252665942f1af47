package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/fleet-availability/internal/models"
)

const maxBody = 1 << 20

type errorBody struct {
	Error     string            `json:"error"`
	Field     string            `json:"field,omitempty"`
	Conflict  map[string]string `json:"conflict,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps engine errors onto status codes: validation 400, not
// found 404, conflict 409, anything else 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *models.ValidationError
		nf *models.NotFoundError
		ce *models.ConflictError
	)
	body := errorBody{Error: err.Error(), RequestID: requestIDFromContext(r.Context())}
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status, body.Field = http.StatusBadRequest, ve.Field
	case errors.As(err, &nf):
		status = http.StatusNotFound
	case errors.As(err, &ce):
		status = http.StatusConflict
		body.Conflict = map[string]string{"kind": ce.Kind, "id": ce.ID}
	default:
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", body.RequestID, "err", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}
