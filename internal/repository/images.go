package repository

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
)

const saveTimeout = 30 * time.Second

// ImageSink receives the JPEG-encoded color crop and its grayscale copy.
type ImageSink interface {
	SaveImages(ctx context.Context, movement models.Movement, color, gray []byte) error
}

// ImageOptions configures the background save workers.
type ImageOptions struct {
	QueueSize int
	Workers   int
}

// ImageRepository is a MemoryRepository that also persists movement images
// to its sinks. Images are written by background workers so Add never
// blocks on I/O.
type ImageRepository struct {
	*MemoryRepository

	sinks  []ImageSink
	logger *slog.Logger

	mu        sync.RWMutex
	closed    bool
	saveQueue chan models.Movement
	workers   sync.WaitGroup
}

// NewImageRepository starts opts.Workers save workers.
func NewImageRepository(logger *slog.Logger, opts ImageOptions, sinks ...ImageSink) *ImageRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	r := &ImageRepository{
		MemoryRepository: NewMemoryRepository(logger),
		sinks:            sinks,
		logger:           logger,
		saveQueue:        make(chan models.Movement, opts.QueueSize),
	}

	for i := 0; i < opts.Workers; i++ {
		r.workers.Add(1)
		go r.saveWorker(i)
	}
	return r
}

// Add stores the movement and queues its image for persistence. It fails
// with ErrStorage only after Close.
func (r *ImageRepository) Add(movement models.Movement) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("%w: repository closed", ErrStorage)
	}

	if err := r.MemoryRepository.Add(movement); err != nil {
		return err
	}
	if movement.Image == nil {
		return nil
	}

	select {
	case r.saveQueue <- movement:
	default:
		r.logger.Warn("save queue full, dropping image", "timestamp", movement.Timestamp)
	}
	return nil
}

// PersistImage writes the color image and a grayscale copy to every sink.
// All sinks are attempted; the first failure is returned wrapped in ErrStorage.
func (r *ImageRepository) PersistImage(ctx context.Context, movement models.Movement) error {
	if movement.Image == nil {
		return fmt.Errorf("%w: movement at %s has no image", ErrStorage, movement.Timestamp)
	}

	color, err := EncodeJPEG(movement.Image)
	if err != nil {
		return fmt.Errorf("%w: encode color frame: %w", ErrStorage, err)
	}
	gray, err := EncodeJPEG(imaging.Grayscale(movement.Image))
	if err != nil {
		return fmt.Errorf("%w: encode gray frame: %w", ErrStorage, err)
	}

	var firstErr error
	for _, sink := range r.sinks {
		if err := sink.SaveImages(ctx, movement, color, gray); err != nil {
			r.logger.Error("failed to save images", "sink", fmt.Sprintf("%T", sink), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %w", ErrStorage, err)
			}
		}
	}
	return firstErr
}

// Close stops accepting movements, drains the queue and waits for workers.
func (r *ImageRepository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.saveQueue)
	r.mu.Unlock()

	r.workers.Wait()
	r.logger.Info("image repository stopped")
	return nil
}

func (r *ImageRepository) saveWorker(id int) {
	defer r.workers.Done()

	for movement := range r.saveQueue {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := r.PersistImage(ctx, movement); err != nil {
			r.logger.Error("image save failed", "worker", id, "timestamp", movement.Timestamp, "error", err)
		}
		cancel()
	}
}

// EncodeJPEG encodes img at quality 95.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
