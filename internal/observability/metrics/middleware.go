package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ResponseRecorder captures the response status code for middleware.
type ResponseRecorder struct {
	http.ResponseWriter
	status int
}

// NewResponseRecorder wraps w, defaulting the recorded status to 200.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader records the status code before delegating.
func (r *ResponseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Status returns the recorded status code.
func (r *ResponseRecorder) Status() int {
	return r.status
}

// Hijack keeps protocol upgrades working through the wrapper.
func (r *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// Flush forwards streaming flushes when the underlying writer supports them.
func (r *ResponseRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// RequestMiddleware returns chi-compatible middleware that records request
// counts and latency in the given Recorder.
func RequestMiddleware(rec *Recorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := NewResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(wrap, r)
			rec.ObserveRequest(r.Method, wrap.Status(), time.Since(start).Seconds())
		})
	}
}
