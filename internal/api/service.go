package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
	"github.com/Capitan-Parrot/motion-detector/internal/pipeline"
	"github.com/Capitan-Parrot/motion-detector/internal/repository"
	"github.com/Capitan-Parrot/motion-detector/internal/stream"
)

// MovementHistory reads persisted movements.
type MovementHistory interface {
	ListMovements(ctx context.Context, limit int) ([]models.Movement, error)
}

// Deps are the collaborators of the handlers. History and Feed are optional.
type Deps struct {
	Store      repository.MovementStore
	Opener     stream.Opener
	Processors pipeline.ProcessorFactory
	Pool       *pipeline.Pool
	History    MovementHistory
	Feed       http.Handler
	Mirror     bool
	Logger     *slog.Logger
}

type Handlers struct {
	deps   Deps
	logger *slog.Logger
}

func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{deps: deps, logger: logger.With("component", "api")}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
