// Package stream opens webcam and network camera sources.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"
)

var (
	ErrStreamUnavailable = errors.New("stream unavailable")
	ErrUnknownStreamKind = errors.New("unknown stream type")
	ErrInvalidParameters = errors.New("invalid stream parameters")
	ErrEndOfStream       = errors.New("end of stream")
)

// Source yields BGR frames until ErrEndOfStream. The caller owns every
// returned Mat. On error the returned Mat is empty and must not be closed.
type Source interface {
	Frame() (gocv.Mat, error)
	Release() error
}

// capture is the part of *gocv.VideoCapture a VideoSource reads from.
type capture interface {
	Read(m *gocv.Mat) bool
	IsOpened() bool
	Close() error
}

// VideoSource reads frames from an OpenCV capture device or URL.
type VideoSource struct {
	name   string
	cap    capture
	logger *slog.Logger

	once       sync.Once
	releaseErr error
}

func newVideoSource(name string, cap capture, logger *slog.Logger) *VideoSource {
	return &VideoSource{name: name, cap: cap, logger: logger}
}

func (s *VideoSource) Frame() (gocv.Mat, error) {
	mat := gocv.NewMat()
	if ok := s.cap.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrEndOfStream, s.name)
	}
	return mat, nil
}

// Release closes the capture. Safe to call more than once.
func (s *VideoSource) Release() error {
	s.once.Do(func() {
		s.releaseErr = s.cap.Close()
		s.logger.Info("stream released", "source", s.name)
	})
	return s.releaseErr
}

func (s *VideoSource) String() string {
	return s.name
}
