package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"streampulse/internal/supervisor"
)

// Controller exposes the stream lifecycle operations the handlers require.
type Controller interface {
	Start(ctx context.Context, sourceURL, displayName, resolution string) (supervisor.StreamInfo, error)
	Stop(ref string) error
	Restart(ctx context.Context, ref, displayName, resolution string) (supervisor.StreamInfo, error)
	Bitrate(ref string) (supervisor.BitrateReport, error)
	ListActive() []supervisor.StreamInfo
	ViewerJoined(stream string) (int, error)
	ViewerLeft(stream string) (int, error)
}

// EventHandler serves the live event feed for a connected observer.
type EventHandler interface {
	HandleConnection(w http.ResponseWriter, r *http.Request)
}

// Handler routes control-plane requests to the supervisor.
type Handler struct {
	Streams Controller
	Events  EventHandler
	// HookToken, when set, is required on viewer hook requests either as a
	// bearer token or a token query parameter.
	HookToken string
	Logger    *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Register mounts the API routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/streams", h.ListStreams)
		r.Post("/streams", h.StartStream)
		r.Post("/streams/restart", h.RestartStream)
		r.Delete("/streams/{id}", h.StopStream)
		r.Get("/streams/{id}/bitrate", h.StreamBitrate)
		r.Post("/hooks/play", h.ViewerPlay)
		r.Post("/hooks/stop", h.ViewerStop)
		r.Get("/events", h.EventFeed)
	})
}

type startStreamRequest struct {
	URL        string `json:"url"`
	Name       string `json:"name,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

type restartStreamRequest struct {
	ID         string `json:"id,omitempty"`
	URL        string `json:"url,omitempty"`
	Name       string `json:"name,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// StartStream ensures a transcoder is running for the requested source.
func (h *Handler) StartStream(w http.ResponseWriter, r *http.Request) {
	var req startStreamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("url is required"))
		return
	}
	info, err := h.Streams.Start(r.Context(), req.URL, req.Name, req.Resolution)
	if err != nil {
		h.writeStreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// StopStream tears a stream down and removes its artifacts. The stream may
// be addressed by id in the path or by its source URL in the url query
// parameter.
func (h *Handler) StopStream(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")
	if raw := strings.TrimSpace(r.URL.Query().Get("url")); raw != "" {
		ref = raw
	}
	if err := h.Streams.Stop(ref); err != nil {
		h.writeStreamError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// RestartStream force-replaces a stream's transcoder process.
func (h *Handler) RestartStream(w http.ResponseWriter, r *http.Request) {
	var req restartStreamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ref := strings.TrimSpace(req.URL)
	if ref == "" {
		ref = strings.TrimSpace(req.ID)
	}
	if ref == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("id or url is required"))
		return
	}
	info, err := h.Streams.Restart(r.Context(), ref, req.Name, req.Resolution)
	if err != nil {
		h.writeStreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ListStreams summarises every supervised stream.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Streams.ListActive())
}

// StreamBitrate reports the current throughput and bounded history. The
// stream may be addressed by id in the path or by its source URL in the url
// query parameter.
func (h *Handler) StreamBitrate(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")
	if raw := strings.TrimSpace(r.URL.Query().Get("url")); raw != "" {
		ref = raw
	}
	report, err := h.Streams.Bitrate(ref)
	if err != nil {
		h.writeStreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// EventFeed upgrades the request into the live WebSocket event stream.
func (h *Handler) EventFeed(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("event feed unavailable"))
		return
	}
	h.Events.HandleConnection(w, r)
}

func (h *Handler) writeStreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, supervisor.ErrRecentlyRemoved):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
