package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// maxBodyBytes bounds control-plane request bodies; every payload here is a
// handful of fields.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodeJSON parses a request body into dest, rejecting unknown fields so
// client typos surface as errors instead of silently ignored options.
func decodeJSON(r *http.Request, dest interface{}) error {
	return decodeBody(r, dest, true)
}

// decodeJSONAllowUnknown tolerates extra fields, for callback payloads whose
// schema is owned by the media server.
func decodeJSONAllowUnknown(r *http.Request, dest interface{}) error {
	return decodeBody(r, dest, false)
}

func decodeBody(r *http.Request, dest interface{}, strict bool) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.UseNumber()
	if strict {
		decoder.DisallowUnknownFields()
	}
	return decoder.Decode(dest)
}
