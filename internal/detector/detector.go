// Package detector finds circles in video frames and debounces the
// resulting detections before they are saved.
package detector

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"gocv.io/x/gocv"

	"github.com/Capitan-Parrot/motion-detector/internal/config"
	"github.com/Capitan-Parrot/motion-detector/internal/models"
	"github.com/Capitan-Parrot/motion-detector/internal/observer"
	"github.com/Capitan-Parrot/motion-detector/internal/repository"
)

// ErrInvalidFrame is returned for empty frames and frames that are not 8-bit BGR.
var ErrInvalidFrame = errors.New("invalid frame")

const (
	DetectionMessage = "Circle detected in frame"

	medianKernelSize = 5
	cropScale        = 2.5
)

var (
	boundaryColor = color.RGBA{G: 255}
	centerColor   = color.RGBA{R: 255}
)

// State is the debounce state of an engine. Zero times mean "never".
type State struct {
	LastDetection time.Time
	LastSave      time.Time
	Saving        bool
}

// Engine detects circles frame by frame. Observers attached to the engine
// receive a message for every detection outside the min delay window; a
// detection that stays stable for the save delay is stored with a sharpened
// crop. An Engine is not safe for concurrent use.
type Engine struct {
	*observer.Subject

	minDelay  time.Duration
	saveDelay time.Duration
	location  *time.Location

	finder CircleFinder
	store  repository.MovementStore
	logger *slog.Logger

	state State
}

// New validates cfg and builds an engine. A nil finder uses the Hough
// transform configured by cfg.
func New(cfg config.Detection, finder CircleFinder, store repository.MovementStore, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: movement store is required", config.ErrInvalidConfig)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if finder == nil {
		finder = NewHoughFinder(cfg)
	}

	return &Engine{
		Subject:   observer.NewSubject(logger),
		minDelay:  cfg.MinDelayDuration(),
		saveDelay: cfg.SaveDelayDuration(),
		location:  loc,
		finder:    finder,
		store:     store,
		logger:    logger,
	}, nil
}

func (e *Engine) State() State {
	return e.state
}

// Process detects circles in frame and returns it, annotated when a
// detection qualified. The frame is modified in place.
func (e *Engine) Process(frame gocv.Mat, now time.Time) (gocv.Mat, error) {
	if frame.Empty() {
		return frame, fmt.Errorf("%w: empty frame", ErrInvalidFrame)
	}
	if frame.Type() != gocv.MatTypeCV8UC3 {
		return frame, fmt.Errorf("%w: expected 8-bit 3-channel frame, got type %v", ErrInvalidFrame, frame.Type())
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.MedianBlur(gray, &blurred, medianKernelSize)

	candidates := e.finder.FindCircles(blurred)
	if len(candidates) == 0 {
		return frame, nil
	}

	// Sub saturates for the zero time, so the first detection always passes.
	if now.Sub(e.state.LastDetection) < e.minDelay {
		return frame, nil
	}

	for _, c := range candidates {
		center := image.Pt(c.X, c.Y)
		gocv.Circle(&frame, center, c.Radius, boundaryColor, 2)
		gocv.Circle(&frame, center, 2, centerColor, 3)
	}

	e.Notify(DetectionMessage)
	e.logger.Info("circles detected", "count", len(candidates), "candidates", candidates)

	movement := models.Movement{
		Timestamp:   now.In(e.location),
		Description: DetectionMessage,
	}

	if !e.state.Saving {
		e.state.Saving = true
		e.state.LastSave = now
	}

	if now.Sub(e.state.LastSave) >= e.saveDelay {
		target := selectCandidate(candidates)

		crop, err := cropAndSharpen(frame, target)
		if err != nil {
			e.logger.Error("failed to crop frame", "candidate", target, "error", err)
		} else {
			b := crop.Bounds()
			e.logger.Info("object is focused", "width", b.Dx(), "height", b.Dy())
			movement.Image = crop
		}

		if err := e.store.Add(movement); err != nil {
			e.logger.Error("failed to store movement", "timestamp", movement.Timestamp, "error", err)
		}

		e.state.Saving = false
		e.state.LastDetection = now
	}

	return frame, nil
}

// selectCandidate picks the largest circle; ties go to the first one.
func selectCandidate(candidates []models.Candidate) models.Candidate {
	return lo.MaxBy(candidates, func(a, b models.Candidate) bool {
		return a.Radius > b.Radius
	})
}

// cropRect is the square of side 2.5*r around c, clamped to the frame.
func cropRect(c models.Candidate, cols, rows int) image.Rectangle {
	half := int(cropScale*float64(c.Radius)) / 2
	return image.Rect(
		max(0, c.X-half),
		max(0, c.Y-half),
		min(cols, c.X+half),
		min(rows, c.Y+half),
	)
}

func cropAndSharpen(frame gocv.Mat, c models.Candidate) (image.Image, error) {
	rect := cropRect(c, frame.Cols(), frame.Rows())
	if rect.Empty() {
		return nil, fmt.Errorf("crop around (%d,%d) r=%d is outside the frame", c.X, c.Y, c.Radius)
	}

	region := frame.Region(rect)
	defer region.Close()

	sharpened := gocv.NewMat()
	defer sharpened.Close()
	if err := sharpen(region, &sharpened); err != nil {
		return nil, err
	}

	return sharpened.ToImage()
}

// sharpen applies the 3x3 kernel [[0,-1,0],[-1,5,-1],[0,-1,0]].
func sharpen(src gocv.Mat, dst *gocv.Mat) error {
	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()

	weights := [3][3]float32{
		{0, -1, 0},
		{-1, 5, -1},
		{0, -1, 0},
	}
	for row := range weights {
		for col, w := range weights[row] {
			kernel.SetFloatAt(row, col, w)
		}
	}

	gocv.Filter2D(src, dst, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
	if dst.Empty() {
		return errors.New("sharpen produced an empty image")
	}
	return nil
}
