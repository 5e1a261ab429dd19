// Package pipeline pulls frames from a source through a detection engine
// into a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/Capitan-Parrot/motion-detector/internal/detector"
	"github.com/Capitan-Parrot/motion-detector/internal/stream"
)

// Processor annotates a frame. It returns either the same Mat or a new one
// owned by the caller.
type Processor interface {
	Process(frame gocv.Mat, now time.Time) (gocv.Mat, error)
}

// ProcessorFactory builds the detection engine of one stream with its
// observers attached.
type ProcessorFactory func(streamID string) (Processor, error)

// Sink receives every JPEG-encoded output frame.
type Sink interface {
	WriteFrame(jpeg []byte) error
}

// DiscardSink drops frames.
type DiscardSink struct{}

func (DiscardSink) WriteFrame([]byte) error { return nil }

type Options struct {
	StreamID string
	// Mirror flips frames horizontally before detection.
	Mirror bool
	Pre    []Hook
	Post   []Hook
	Clock  func() time.Time
}

type Driver struct {
	source    stream.Source
	processor Processor
	pool      *Pool
	sink      Sink
	opts      Options
	logger    *slog.Logger

	frames atomic.Int64
}

func NewDriver(source stream.Source, processor Processor, pool *Pool, sink Sink, logger *slog.Logger, opts Options) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if sink == nil {
		sink = DiscardSink{}
	}
	return &Driver{
		source:    source,
		processor: processor,
		pool:      pool,
		sink:      sink,
		opts:      opts,
		logger:    logger.With("stream", opts.StreamID),
	}
}

// Frames returns the number of frames written to the sink.
func (d *Driver) Frames() int64 {
	return d.frames.Load()
}

// Run processes frames until the source ends, ctx is cancelled or the sink
// fails. The source is released on return.
func (d *Driver) Run(ctx context.Context) error {
	defer func() {
		if err := d.source.Release(); err != nil {
			d.logger.Error("failed to release source", "error", err)
		}
	}()

	d.logger.Info("pipeline started")
	for index := int64(0); ; index++ {
		select {
		case <-ctx.Done():
			d.logger.Info("pipeline cancelled", "frames", d.Frames())
			return nil
		default:
		}

		frame, err := d.source.Frame()
		if err != nil {
			if errors.Is(err, stream.ErrEndOfStream) {
				d.logger.Info("end of stream", "frames", d.Frames())
				return nil
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		if err := d.step(ctx, frame, index); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// step owns frame and closes it before returning.
func (d *Driver) step(ctx context.Context, frame gocv.Mat, index int64) error {
	if d.opts.Mirror {
		flipped := gocv.NewMat()
		gocv.Flip(frame, &flipped, 1)
		frame.Close()
		frame = flipped
	}
	defer frame.Close()

	hc := &HookContext{
		StreamID:  d.opts.StreamID,
		Index:     index,
		Timestamp: d.opts.Clock(),
		Frame:     frame,
	}
	if skip, err := d.runHooks(d.opts.Pre, hc); err != nil || skip {
		return err
	}

	var (
		out        gocv.Mat
		processErr error
	)
	if err := d.pool.Do(ctx, func() {
		out, processErr = d.processor.Process(frame, hc.Timestamp)
	}); err != nil {
		return err
	}
	if processErr != nil {
		if errors.Is(processErr, detector.ErrInvalidFrame) {
			d.logger.Warn("skipping frame", "frame", index, "error", processErr)
			return nil
		}
		return fmt.Errorf("failed to process frame %d: %w", index, processErr)
	}
	if out.Ptr() != frame.Ptr() {
		defer out.Close()
	}

	hc.Frame = out
	if skip, err := d.runHooks(d.opts.Post, hc); err != nil || skip {
		return err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, out)
	if err != nil {
		d.logger.Warn("failed to encode frame", "frame", index, "error", err)
		return nil
	}
	defer buf.Close()

	if err := d.sink.WriteFrame(buf.GetBytes()); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", index, err)
	}
	d.frames.Add(1)
	return nil
}

func (d *Driver) runHooks(hooks []Hook, hc *HookContext) (bool, error) {
	for _, hook := range hooks {
		if err := hook(hc); err != nil {
			return false, fmt.Errorf("hook failed on frame %d: %w", hc.Index, err)
		}
		if hc.Skip {
			return true, nil
		}
	}
	return false, nil
}
