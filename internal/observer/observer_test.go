package observer

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

type recorder struct {
	name string
	log  *[]string
}

func (r *recorder) Update(message string) error {
	*r.log = append(*r.log, r.name+":"+message)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyDeliversInAttachOrder(t *testing.T) {
	var got []string
	s := NewSubject(quietLogger())
	s.Attach(&recorder{name: "a", log: &got})
	s.Attach(&recorder{name: "b", log: &got})
	s.Attach(&recorder{name: "c", log: &got})

	s.Notify("x")

	want := []string{"a:x", "b:x", "c:x"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestDuplicateAttachDeliversTwice(t *testing.T) {
	var got []string
	s := NewSubject(quietLogger())
	o := &recorder{name: "dup", log: &got}
	s.Attach(o)
	s.Attach(o)

	s.Notify("x")

	if len(got) != 2 || got[0] != "dup:x" || got[1] != "dup:x" {
		t.Fatalf("Expected two deliveries, got %v", got)
	}
}

func TestDetachRemovesFirstMatchOnly(t *testing.T) {
	var got []string
	s := NewSubject(quietLogger())
	o := &recorder{name: "o", log: &got}
	s.Attach(o)
	s.Attach(o)

	if err := s.Detach(o); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Expected 1 attachment left, got %d", s.Len())
	}

	s.Notify("y")
	if len(got) != 1 {
		t.Fatalf("Expected one delivery, got %v", got)
	}
}

func TestDetachUnknownObserver(t *testing.T) {
	s := NewSubject(quietLogger())
	s.Attach(NewFunc(func(string) error { return nil }))

	err := s.Detach(NewFunc(func(string) error { return nil }))
	if !errors.Is(err, ErrObserverNotFound) {
		t.Fatalf("Expected ErrObserverNotFound, got %v", err)
	}
}

func TestNotifyIsolatesFailingObservers(t *testing.T) {
	var got []string
	s := NewSubject(quietLogger())
	s.Attach(NewFunc(func(string) error { return errors.New("boom") }))
	s.Attach(NewFunc(func(string) error { panic("observer exploded") }))
	s.Attach(&recorder{name: "ok", log: &got})

	s.Notify("z")

	if len(got) != 1 || got[0] != "ok:z" {
		t.Fatalf("Expected healthy observer to receive message, got %v", got)
	}
}

func TestDetachDuringNotify(t *testing.T) {
	var got []string
	s := NewSubject(quietLogger())

	var self *Func
	self = NewFunc(func(message string) error {
		got = append(got, "self:"+message)
		return s.Detach(self)
	})
	s.Attach(self)
	s.Attach(&recorder{name: "after", log: &got})

	s.Notify("m")

	if len(got) != 2 || got[1] != "after:m" {
		t.Fatalf("Expected remaining observer to be notified, got %v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("Expected self-detaching observer removed, got %d attachments", s.Len())
	}

	s.Notify("n")
	if len(got) != 3 || got[2] != "after:n" {
		t.Fatalf("Expected only remaining observer on second notify, got %v", got)
	}
}

func TestDeliverWrapsErrors(t *testing.T) {
	err := deliver(NewFunc(func(string) error { return io.ErrUnexpectedEOF }), "x")
	if !errors.Is(err, ErrObserverFailed) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Expected wrapped observer error, got %v", err)
	}

	err = deliver(NewFunc(func(string) error { panic("bad") }), "x")
	if !errors.Is(err, ErrObserverFailed) {
		t.Fatalf("Expected ErrObserverFailed for panic, got %v", err)
	}
}
