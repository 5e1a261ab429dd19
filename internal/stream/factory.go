package stream

import (
	"fmt"
	"log/slog"

	"gocv.io/x/gocv"
)

type Kind string

const (
	KindWebcam Kind = "Webcam"
	KindRTSP   Kind = "RTSP"
)

// Params are the kind-specific arguments of Open. Device is used by
// webcams, URL by network cameras.
type Params struct {
	URL    string
	Device int
}

// Opener opens a source of the given kind.
type Opener interface {
	Open(kind string, params Params) (Source, error)
}

// Factory opens sources through OpenCV.
type Factory struct {
	openCapture func(target any) (capture, error)
	logger      *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		openCapture: func(target any) (capture, error) {
			return gocv.OpenVideoCapture(target)
		},
		logger: logger,
	}
}

// Validate checks kind and params without touching any device.
func Validate(kind string, params Params) error {
	switch Kind(kind) {
	case KindWebcam:
		if params.Device < 0 {
			return fmt.Errorf("%w: device index must be non-negative, got %d", ErrInvalidParameters, params.Device)
		}
	case KindRTSP:
		if params.URL == "" {
			return fmt.Errorf("%w: RTSP stream requires 'url' parameter", ErrInvalidParameters)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStreamKind, kind)
	}
	return nil
}

func (f *Factory) Open(kind string, params Params) (Source, error) {
	if err := Validate(kind, params); err != nil {
		return nil, err
	}

	var (
		target any
		name   string
	)
	switch Kind(kind) {
	case KindWebcam:
		target, name = params.Device, fmt.Sprintf("webcam:%d", params.Device)
	case KindRTSP:
		target, name = params.URL, params.URL
	}

	cap, err := f.openCapture(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStreamUnavailable, name, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("%w: %s is not opened", ErrStreamUnavailable, name)
	}

	f.logger.Info("stream opened", "kind", kind, "source", name)
	return newVideoSource(name, cap, f.logger), nil
}
