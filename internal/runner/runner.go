package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/samber/lo"

	"github.com/Capitan-Parrot/motion-detector/internal/kafka"
	"github.com/Capitan-Parrot/motion-detector/internal/models"
	"github.com/Capitan-Parrot/motion-detector/internal/pipeline"
	"github.com/Capitan-Parrot/motion-detector/internal/stream"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	checkStopEventsInterval  = 10 * time.Second
)

// Registry is the persistent list of headless streams.
type Registry interface {
	GetStream(ctx context.Context, streamID string) (*models.Stream, error)
	UpsertStream(ctx context.Context, stream *models.Stream) error
	ChangeStreamAction(ctx context.Context, streamID string, action models.CommandAction) error
	UpdateStreamTimestamp(ctx context.Context, streamID string) error
	GetInactiveStreams(ctx context.Context) ([]models.Stream, error)
}

type HeartbeatSender interface {
	SendHeartbeat(msg models.Heartbeat) error
}

type Options struct {
	HeartbeatInterval time.Duration
	Mirror            bool
}

// activeStream is compared by identity so a finished goroutine never
// removes the entry of a stream restarted under the same id.
type activeStream struct {
	cancel context.CancelFunc
}

type Runner struct {
	registry   Registry
	heartbeats HeartbeatSender
	opener     stream.Opener
	processors pipeline.ProcessorFactory
	pool       *pipeline.Pool
	opts       Options
	logger     *slog.Logger

	activeRunners map[string]*activeStream
	mu            sync.Mutex
	wg            sync.WaitGroup
}

func New(registry Registry, heartbeats HeartbeatSender, opener stream.Opener, processors pipeline.ProcessorFactory, pool *pipeline.Pool, logger *slog.Logger, opts Options) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Runner{
		registry:      registry,
		heartbeats:    heartbeats,
		opener:        opener,
		processors:    processors,
		pool:          pool,
		opts:          opts,
		logger:        logger.With("component", "runner"),
		activeRunners: make(map[string]*activeStream),
	}
}

// ListenAndRun handles commands until ctx ends or messages is closed.
// A command is acknowledged only after it was handled.
func (r *Runner) ListenAndRun(ctx context.Context, messages <-chan kafka.Message) {
	r.logger.Info("listening for stream commands")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down")
			return
		case msg, ok := <-messages:
			if !ok {
				r.logger.Info("command channel closed")
				return
			}

			var cmd models.StreamCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				r.logger.Error("invalid message format", "error", err)
				// Не подтверждаем сообщение при ошибке парсинга
				continue
			}
			r.logger.Info("received stream command", "stream", cmd.StreamID, "action", cmd.Action)

			if err := r.HandleCommand(ctx, cmd); err != nil {
				r.logger.Error("error processing command", "stream", cmd.StreamID, "error", err)
				continue
			}

			msg.Ack()
		}
	}
}

func (r *Runner) HandleCommand(ctx context.Context, cmd models.StreamCommand) error {
	switch cmd.Action {
	case models.CommandStart:
		return r.Start(ctx, cmd)
	case models.CommandStop:
		return r.RegisterStopEvent(ctx, cmd.StreamID)
	default:
		r.logger.Warn("unknown command", "action", cmd.Action)
		return nil
	}
}

// Start runs a headless pipeline for cmd unless the stream is already
// running here or another runner sent a fresh heartbeat for it.
func (r *Runner) Start(ctx context.Context, cmd models.StreamCommand) error {
	if cmd.StreamID == "" {
		r.logger.Warn("start command without stream id")
		return nil
	}
	params := stream.Params{URL: cmd.URL}
	if err := stream.Validate(cmd.StreamType, params); err != nil {
		// Повторная доставка не поможет
		r.logger.Warn("rejecting start command", "stream", cmd.StreamID, "error", err)
		return nil
	}

	if r.IsActive(cmd.StreamID) {
		r.logger.Info("stream already running", "stream", cmd.StreamID)
		return nil
	}

	existing, err := r.registry.GetStream(ctx, cmd.StreamID)
	if err != nil {
		return fmt.Errorf("failed to get stream %s: %w", cmd.StreamID, err)
	}
	if existing != nil && existing.Action == models.CommandStart &&
		time.Since(existing.UpdatedAt) < r.opts.HeartbeatInterval*3 {
		r.logger.Info("stream is served by another runner", "stream", cmd.StreamID)
		return nil
	}

	source, err := r.opener.Open(cmd.StreamType, params)
	if err != nil {
		return fmt.Errorf("failed to open stream %s: %w", cmd.StreamID, err)
	}

	processor, err := r.processors(cmd.StreamID)
	if err != nil {
		source.Release()
		return fmt.Errorf("failed to create detector for %s: %w", cmd.StreamID, err)
	}

	if err := r.registry.UpsertStream(ctx, &models.Stream{
		ID:         cmd.StreamID,
		Action:     models.CommandStart,
		StreamType: cmd.StreamType,
		URL:        cmd.URL,
	}); err != nil {
		source.Release()
		return fmt.Errorf("failed to register stream %s: %w", cmd.StreamID, err)
	}
	r.logger.Info("runner created", "stream", cmd.StreamID)

	r.sendHeartbeat(cmd.StreamID, models.CommandStart, 0)

	driver := pipeline.NewDriver(source, processor, r.pool, pipeline.DiscardSink{}, r.logger, pipeline.Options{
		StreamID: cmd.StreamID,
		Mirror:   r.opts.Mirror,
	})

	r.mu.Lock()
	childCtx, cancel := context.WithCancel(ctx)
	entry := &activeStream{cancel: cancel}
	r.activeRunners[cmd.StreamID] = entry
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.run(childCtx, cmd.StreamID, entry, driver)
	}()

	return nil
}

func (r *Runner) run(ctx context.Context, streamID string, entry *activeStream, driver *pipeline.Driver) {
	done := make(chan error, 1)
	go func() {
		done <- driver.Run(ctx)
	}()

	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case runErr = <-done:
			break loop
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			if err := r.registry.UpdateStreamTimestamp(ctx, streamID); err != nil {
				r.logger.Error("error updating stream timestamp", "stream", streamID, "error", err)
			}
			r.sendHeartbeat(streamID, models.CommandStart, driver.Frames())
		}
	}

	r.mu.Lock()
	current, ok := r.activeRunners[streamID]
	if current == entry {
		delete(r.activeRunners, streamID)
	}
	superseded := ok && current != entry
	r.mu.Unlock()

	if runErr != nil {
		r.logger.Error("runner error", "stream", streamID, "error", runErr)
	}

	// Поток закончился сам, а не по команде stop
	if ctx.Err() == nil {
		if err := r.registry.ChangeStreamAction(ctx, streamID, models.CommandStop); err != nil {
			r.logger.Error("error marking stream stopped", "stream", streamID, "error", err)
		}
	}

	// Новый раннер уже шлёт heartbeat за этот поток
	if !superseded {
		r.sendHeartbeat(streamID, models.CommandStop, driver.Frames())
	}
	r.logger.Info("runner finished", "stream", streamID, "frames", driver.Frames())
}

func (r *Runner) RegisterStopEvent(ctx context.Context, streamID string) error {
	if err := r.registry.ChangeStreamAction(ctx, streamID, models.CommandStop); err != nil {
		return fmt.Errorf("failed to stop stream %s: %w", streamID, err)
	}
	r.Stop(streamID)
	return nil
}

// ProcessStopEvents stops local streams that were stopped through another
// runner instance.
func (r *Runner) ProcessStopEvents(ctx context.Context) {
	ticker := time.NewTicker(checkStopEventsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.stopInactive(ctx)
		}
	}
}

func (r *Runner) stopInactive(ctx context.Context) {
	streams, err := r.registry.GetInactiveStreams(ctx)
	if err != nil {
		r.logger.Error("error getting inactive streams", "error", err)
		return
	}

	streamIDs := lo.Map(streams, func(s models.Stream, _ int) string {
		return s.ID
	})
	for _, streamID := range streamIDs {
		r.Stop(streamID)
	}
}

// Stop cancels a local stream and forgets it at once, so a start that
// follows is not mistaken for a duplicate while the old pipeline drains.
// It reports whether the stream was running.
func (r *Runner) Stop(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.activeRunners[streamID]; ok {
		entry.cancel()
		delete(r.activeRunners, streamID)
		r.logger.Info("runner stopped", "stream", streamID)
		return true
	}

	return false
}

func (r *Runner) IsActive(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.activeRunners[streamID]
	return ok
}

// Active returns the ids of the streams running here.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.activeRunners)
}

// Wait blocks until every started stream has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) sendHeartbeat(streamID string, action models.CommandAction, frame int64) {
	if err := r.heartbeats.SendHeartbeat(models.Heartbeat{
		StreamID:  streamID,
		Action:    action,
		Frame:     frame,
		TimeStamp: time.Now().UTC(),
	}); err != nil {
		r.logger.Error("error sending heartbeat", "stream", streamID, "action", action, "error", err)
	}
}
