package pipeline

import (
	"log/slog"
	"time"

	"gocv.io/x/gocv"
)

// HookContext is what a hook sees of the frame being processed. Setting
// Skip drops the frame before it reaches the sink.
type HookContext struct {
	StreamID  string
	Index     int64
	Timestamp time.Time
	Frame     gocv.Mat
	Skip      bool
}

type Hook func(hc *HookContext) error

// LogFrames logs every n-th frame.
func LogFrames(logger *slog.Logger, every int64) Hook {
	if every <= 0 {
		every = 1
	}
	return func(hc *HookContext) error {
		if hc.Index%every == 0 {
			logger.Debug("processing frame",
				"stream", hc.StreamID,
				"frame", hc.Index,
				"width", hc.Frame.Cols(),
				"height", hc.Frame.Rows())
		}
		return nil
	}
}

// FrameFilter drops frames for which keep returns false.
func FrameFilter(keep func(hc *HookContext) bool) Hook {
	return func(hc *HookContext) error {
		if !keep(hc) {
			hc.Skip = true
		}
		return nil
	}
}
