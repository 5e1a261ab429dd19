package api

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewRouter регистрирует обработчики
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(h.logger))

	r.HandleFunc("/", h.RootHandler).Methods("GET")
	r.HandleFunc("/health", h.HealthHandler).Methods("GET")
	r.HandleFunc("/video_feed", h.VideoFeedHandler).Methods("GET")
	r.HandleFunc("/movements", h.GetMovementsHandler).Methods("GET")
	r.HandleFunc("/movements/history", h.GetMovementsHistoryHandler).Methods("GET")
	if h.deps.Feed != nil {
		r.Handle("/ws/detections", h.deps.Feed).Methods("GET")
	}

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required by the websocket upgrader, which asserts
// http.Hijacker directly instead of unwrapping.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(r.ResponseWriter).Hijack()
	if err == nil {
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start))
		})
	}
}
