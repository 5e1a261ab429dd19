// Package repository keeps detected movements and persists their images.
package repository

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
)

// ErrStorage wraps every persistence fault.
var ErrStorage = errors.New("storage error")

// MovementStore is the append-only movement log shared by all streams.
type MovementStore interface {
	Add(movement models.Movement) error
	List() []models.Movement
	Clear()
}

// MemoryRepository keeps movements in insertion order. Safe for concurrent use.
type MemoryRepository struct {
	mu        sync.RWMutex
	movements []models.Movement
	logger    *slog.Logger
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository(logger *slog.Logger) *MemoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryRepository{logger: logger}
}

func (r *MemoryRepository) Add(movement models.Movement) error {
	r.mu.Lock()
	r.movements = append(r.movements, movement)
	r.mu.Unlock()

	r.logger.Info("movement added",
		"timestamp", movement.Timestamp,
		"description", movement.Description)
	return nil
}

// List returns a copy of the stored movements.
func (r *MemoryRepository) List() []models.Movement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Movement, len(r.movements))
	copy(out, r.movements)
	return out
}

func (r *MemoryRepository) Clear() {
	r.mu.Lock()
	r.movements = nil
	r.mu.Unlock()
}
