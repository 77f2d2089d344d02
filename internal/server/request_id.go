package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"streampulse/internal/observability/logging"
)

type idGenerator func() string

func requestIDMiddleware() func(http.Handler) http.Handler {
	return requestIDMiddlewareWithGenerator(newRequestID)
}

func requestIDMiddlewareWithGenerator(generator idGenerator) func(http.Handler) http.Handler {
	if generator == nil {
		generator = newRequestID
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
			if requestID == "" {
				requestID = generator()
			}

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			if requestID != "" {
				w.Header().Set("X-Request-Id", requestID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newRequestID() string {
	var buffer [16]byte
	if _, err := rand.Read(buffer[:]); err == nil {
		return hex.EncodeToString(buffer[:])
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
