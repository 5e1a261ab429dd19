// Package observer delivers detection messages to registered listeners.
package observer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrObserverNotFound is returned by Detach for an observer that is not attached.
	ErrObserverNotFound = errors.New("observer not attached")

	// ErrObserverFailed wraps an error or panic raised by Update.
	ErrObserverFailed = errors.New("observer update failed")
)

// Observer receives the text of each detection.
// Implementations must be comparable; Detach matches by identity.
type Observer interface {
	Update(message string) error
}

// Func adapts a function to Observer. Use NewFunc so every adapter has its
// own identity.
type Func struct {
	fn func(message string) error
}

// NewFunc returns an Observer that calls fn.
func NewFunc(fn func(message string) error) *Func {
	return &Func{fn: fn}
}

func (f *Func) Update(message string) error {
	return f.fn(message)
}

// Subject holds observers and notifies them synchronously in attach order.
type Subject struct {
	mu        sync.Mutex
	observers []Observer
	logger    *slog.Logger
}

// NewSubject returns an empty Subject. A nil logger uses slog.Default.
func NewSubject(logger *slog.Logger) *Subject {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subject{logger: logger}
}

// Attach appends o. Attaching the same observer twice delivers twice.
func (s *Subject) Attach(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
	s.logger.Debug("observer attached", "observer", fmt.Sprintf("%T", o))
}

// Detach removes the first attachment of o.
func (s *Subject) Detach(o Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, attached := range s.observers {
		if attached == o {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			s.logger.Debug("observer detached", "observer", fmt.Sprintf("%T", o))
			return nil
		}
	}
	return ErrObserverNotFound
}

// Len returns the number of attachments.
func (s *Subject) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// Notify delivers message to a snapshot of the attached observers.
// A failing observer is logged and skipped; the rest still receive message.
// Observers may Attach or Detach from inside Update.
func (s *Subject) Notify(message string) {
	s.mu.Lock()
	snapshot := make([]Observer, len(s.observers))
	copy(snapshot, s.observers)
	s.mu.Unlock()

	s.logger.Info("notifying observers", "message", message, "observers", len(snapshot))
	for _, o := range snapshot {
		if err := deliver(o, message); err != nil {
			s.logger.Error("observer failed", "observer", fmt.Sprintf("%T", o), "error", err)
		}
	}
}

func deliver(o Observer, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrObserverFailed, r)
		}
	}()
	if err := o.Update(message); err != nil {
		return fmt.Errorf("%w: %w", ErrObserverFailed, err)
	}
	return nil
}

// Logger is an Observer that writes every message to a slog.Logger.
type Logger struct {
	logger *slog.Logger
	attrs  []any
}

// NewLogger returns a logging observer. attrs are added to every record.
func NewLogger(logger *slog.Logger, attrs ...any) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger, attrs: attrs}
}

func (l *Logger) Update(message string) error {
	l.logger.Info(message, l.attrs...)
	return nil
}
