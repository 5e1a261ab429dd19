package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
)

// timestampLayout is filesystem-safe and sorts lexically.
const timestampLayout = "20060102T150405.000000Z0700"

// FileSink writes frame_<ts>.jpg and frame_gray_<ts>.jpg into a directory.
type FileSink struct {
	dir    string
	logger *slog.Logger
}

func NewFileSink(dir string, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{dir: dir, logger: logger}
}

func (s *FileSink) SaveImages(_ context.Context, movement models.Movement, color, gray []byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	colorPath := s.ColorPath(movement)
	if err := os.WriteFile(colorPath, color, 0644); err != nil {
		return fmt.Errorf("failed to save color frame: %w", err)
	}
	s.logger.Info("saved color frame", "path", colorPath)

	grayPath := s.GrayPath(movement)
	if err := os.WriteFile(grayPath, gray, 0644); err != nil {
		return fmt.Errorf("failed to save gray frame: %w", err)
	}
	s.logger.Info("saved gray frame", "path", grayPath)

	return nil
}

// ColorPath returns where the color frame of movement is written.
func (s *FileSink) ColorPath(movement models.Movement) string {
	return filepath.Join(s.dir, fmt.Sprintf("frame_%s.jpg", movement.Timestamp.Format(timestampLayout)))
}

// GrayPath returns where the grayscale frame of movement is written.
func (s *FileSink) GrayPath(movement models.Movement) string {
	return filepath.Join(s.dir, fmt.Sprintf("frame_gray_%s.jpg", movement.Timestamp.Format(timestampLayout)))
}
