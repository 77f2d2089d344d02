package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// viewerHookRequest mirrors the media server's HTTP callback payload. Extra
// fields are tolerated because callback schemas vary between releases.
type viewerHookRequest struct {
	Action   string `json:"action,omitempty"`
	Stream   string `json:"stream"`
	ClientID string `json:"client_id,omitempty"`
	Param    string `json:"param,omitempty"`
}

// ViewerPlay records a playback session joining a stream.
func (h *Handler) ViewerPlay(w http.ResponseWriter, r *http.Request) {
	h.viewerHook(w, r, h.Streams.ViewerJoined)
}

// ViewerStop records a playback session leaving a stream.
func (h *Handler) ViewerStop(w http.ResponseWriter, r *http.Request) {
	h.viewerHook(w, r, h.Streams.ViewerLeft)
}

func (h *Handler) viewerHook(w http.ResponseWriter, r *http.Request, apply func(string) (int, error)) {
	if !h.hookAuthorized(r) {
		h.logger().Warn("viewer hook rejected token", "path", r.URL.Path, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
		return
	}

	var req viewerHookRequest
	if r.Body != nil && r.Body != http.NoBody {
		if err := decodeJSONAllowUnknown(r, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
	}
	if req.Stream == "" {
		req.Stream = r.URL.Query().Get("stream")
	}
	if strings.TrimSpace(req.Stream) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("stream is required"))
		return
	}

	viewers, err := apply(req.Stream)
	if err != nil {
		h.writeStreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"viewers": viewers})
}

func constantTimeEqual(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	if len(expected) != len(provided) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// hookAuthorized checks the shared hook token. An empty configured token
// disables the check, which suits loopback-only media servers.
func (h *Handler) hookAuthorized(r *http.Request) bool {
	token := strings.TrimSpace(h.HookToken)
	if token == "" {
		return true
	}
	if r == nil {
		return false
	}

	if authHeader := strings.TrimSpace(r.Header.Get("Authorization")); authHeader != "" {
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if constantTimeEqual(token, strings.TrimSpace(parts[1])) {
				return true
			}
		}
	}

	if queryToken := strings.TrimSpace(r.URL.Query().Get("token")); queryToken != "" {
		if constantTimeEqual(token, queryToken) {
			return true
		}
	}

	return false
}
