package detector

import (
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/Capitan-Parrot/motion-detector/internal/config"
	"github.com/Capitan-Parrot/motion-detector/internal/models"
	"github.com/Capitan-Parrot/motion-detector/internal/observer"
)

type fakeFinder struct {
	candidates []models.Candidate
	calls      int
}

func (f *fakeFinder) FindCircles(gocv.Mat) []models.Candidate {
	f.calls++
	return f.candidates
}

type fakeStore struct {
	mu        sync.Mutex
	movements []models.Movement
	err       error
}

func (s *fakeStore) Add(m models.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, m)
	return s.err
}

func (s *fakeStore) List() []models.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Movement(nil), s.movements...)
}

func (s *fakeStore) Clear() {
	s.mu.Lock()
	s.movements = nil
	s.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(minDelay, saveDelay float64) config.Detection {
	cfg := config.DefaultDetection()
	cfg.MinDelay = minDelay
	cfg.SaveDelay = saveDelay
	cfg.Timezone = "UTC"
	return cfg
}

func blankFrame() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
}

func newEngine(t *testing.T, cfg config.Detection, candidates ...models.Candidate) (*Engine, *fakeStore, *[]string) {
	t.Helper()
	store := &fakeStore{}
	engine, err := New(cfg, &fakeFinder{candidates: candidates}, store, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var messages []string
	engine.Attach(observer.NewFunc(func(message string) error {
		messages = append(messages, message)
		return nil
	}))
	return engine, store, &messages
}

func process(t *testing.T, engine *Engine, now time.Time) gocv.Mat {
	t.Helper()
	frame := blankFrame()
	out, err := engine.Process(frame, now)
	if err != nil {
		frame.Close()
		t.Fatalf("Process failed: %v", err)
	}
	return out
}

func isGreen(frame gocv.Mat, x, y int) bool {
	v := frame.GetVecbAt(y, x)
	return v[0] == 0 && v[1] == 255 && v[2] == 0
}

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(0, 0)
	cfg.MinRadius = 0

	if _, err := New(cfg, nil, &fakeStore{}, quietLogger()); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(testConfig(0, 0), nil, nil, quietLogger()); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig without store, got %v", err)
	}
}

func TestProcessRejectsInvalidFrames(t *testing.T) {
	engine, _, _ := newEngine(t, testConfig(0, 0))

	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := engine.Process(empty, t0); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("Expected ErrInvalidFrame for empty frame, got %v", err)
	}

	gray := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8U)
	defer gray.Close()
	if _, err := engine.Process(gray, t0); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("Expected ErrInvalidFrame for single channel frame, got %v", err)
	}
}

func TestNoCandidatesIsNoop(t *testing.T) {
	engine, store, messages := newEngine(t, testConfig(0, 0))

	frame := blankFrame()
	defer frame.Close()
	gocv.Rectangle(&frame, image.Rect(100, 100, 200, 200), color.RGBA{B: 200}, -1)
	before := frame.ToBytes()

	out, err := engine.Process(frame, t0)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if string(out.ToBytes()) != string(before) {
		t.Fatal("Expected frame to be returned unmodified")
	}
	if len(*messages) != 0 || len(store.List()) != 0 {
		t.Fatalf("Expected no side effects, got %d messages and %d movements", len(*messages), len(store.List()))
	}
	if engine.State() != (State{}) {
		t.Fatalf("Expected untouched state, got %+v", engine.State())
	}
}

func TestSyntheticCircleWithZeroDelays(t *testing.T) {
	cfg := testConfig(0, 0)
	cfg.MinRadius = 70
	cfg.MaxRadius = 10000
	engine, store, messages := newEngine(t, cfg, models.Candidate{X: 320, Y: 240, Radius: 50})

	out := process(t, engine, t0)
	defer out.Close()

	if out.Empty() {
		t.Fatal("Expected a frame back")
	}
	if len(*messages) != 1 || !strings.Contains((*messages)[0], "detected") {
		t.Fatalf("Expected one detection message, got %v", *messages)
	}

	movements := store.List()
	if len(movements) != 1 {
		t.Fatalf("Expected exactly one movement, got %d", len(movements))
	}
	m := movements[0]
	if !m.Timestamp.Equal(t0) || m.Description != DetectionMessage {
		t.Errorf("unexpected movement: %+v", m)
	}
	if m.Image == nil {
		t.Fatal("Expected saved movement to carry an image")
	}
	if b := m.Image.Bounds(); b.Dx() != 124 || b.Dy() != 124 {
		t.Errorf("Expected 124x124 crop, got %dx%d", b.Dx(), b.Dy())
	}

	st := engine.State()
	if st.Saving || !st.LastDetection.Equal(t0) || !st.LastSave.Equal(t0) {
		t.Errorf("unexpected state after zero-delay save: %+v", st)
	}
}

func TestOverlayDrawnOnDetection(t *testing.T) {
	engine, _, _ := newEngine(t, testConfig(0, 5), models.Candidate{X: 320, Y: 240, Radius: 50})

	out := process(t, engine, t0)
	defer out.Close()

	if !isGreen(out, 370, 240) {
		t.Fatal("Expected green boundary at the circle edge")
	}
	v := out.GetVecbAt(240, 322)
	if v[0] != 0 || v[1] != 0 || v[2] != 255 {
		t.Fatalf("Expected red center mark, got %v", v)
	}
}

func TestMinDelayWindowSuppressesDetections(t *testing.T) {
	engine, store, messages := newEngine(t, testConfig(10, 0), models.Candidate{X: 320, Y: 240, Radius: 80})

	out := process(t, engine, t0)
	out.Close()
	stateAfterFirst := engine.State()

	out = process(t, engine, t0.Add(5*time.Second))
	if isGreen(out, 400, 240) {
		t.Error("Expected no overlay inside the delay window")
	}
	out.Close()

	if len(*messages) != 1 || len(store.List()) != 1 {
		t.Fatalf("Expected suppressed detection, got %d messages and %d movements", len(*messages), len(store.List()))
	}
	if engine.State() != stateAfterFirst {
		t.Fatalf("Expected state unchanged inside the window, got %+v", engine.State())
	}

	out = process(t, engine, t0.Add(10*time.Second))
	out.Close()
	if len(*messages) != 2 || len(store.List()) != 2 {
		t.Fatalf("Expected detection at the window boundary, got %d messages and %d movements", len(*messages), len(store.List()))
	}
}

func TestSaveDelayDebounce(t *testing.T) {
	engine, store, messages := newEngine(t, testConfig(0, 2), models.Candidate{X: 320, Y: 240, Radius: 80})

	out := process(t, engine, t0)
	out.Close()
	st := engine.State()
	if !st.Saving || !st.LastSave.Equal(t0) || !st.LastDetection.IsZero() {
		t.Fatalf("Expected armed state, got %+v", st)
	}
	if len(store.List()) != 0 {
		t.Fatal("Expected nothing stored while armed")
	}

	out = process(t, engine, t0.Add(1999*time.Millisecond))
	out.Close()
	if len(store.List()) != 0 || !engine.State().Saving {
		t.Fatal("Expected to stay armed before the save delay")
	}

	saveAt := t0.Add(2 * time.Second)
	out = process(t, engine, saveAt)
	out.Close()
	if len(store.List()) != 1 {
		t.Fatalf("Expected one movement at the save delay boundary, got %d", len(store.List()))
	}
	st = engine.State()
	if st.Saving || !st.LastDetection.Equal(saveAt) {
		t.Fatalf("Expected idle state after save, got %+v", st)
	}
	if len(*messages) != 3 {
		t.Fatalf("Expected every qualifying detection to notify, got %d", len(*messages))
	}
}

func sameState(a, b State) bool {
	return a.Saving == b.Saving && a.LastDetection.Equal(b.LastDetection) && a.LastSave.Equal(b.LastSave)
}

func TestEarlierTimestampsDoNotMoveStateBack(t *testing.T) {
	t.Run("idle after save", func(t *testing.T) {
		engine, store, _ := newEngine(t, testConfig(0, 2), models.Candidate{X: 320, Y: 240, Radius: 80})
		out := process(t, engine, t0)
		out.Close()
		out = process(t, engine, t0.Add(2*time.Second))
		out.Close()
		saved := engine.State()
		if saved.Saving {
			t.Fatalf("Expected idle state after save, got %+v", saved)
		}

		out = process(t, engine, t0.Add(time.Second))
		out.Close()

		if st := engine.State(); !sameState(st, saved) {
			t.Fatalf("Expected state %+v to be kept, got %+v", saved, st)
		}
		if n := len(store.List()); n != 1 {
			t.Fatalf("Expected a single movement, got %d", n)
		}
	})

	t.Run("armed", func(t *testing.T) {
		engine, store, _ := newEngine(t, testConfig(0, 2), models.Candidate{X: 320, Y: 240, Radius: 80})
		out := process(t, engine, t0)
		out.Close()
		armed := engine.State()
		if !armed.Saving {
			t.Fatalf("Expected armed state, got %+v", armed)
		}

		out = process(t, engine, t0.Add(-time.Second))
		out.Close()

		if st := engine.State(); !sameState(st, armed) {
			t.Fatalf("Expected state %+v to be kept, got %+v", armed, st)
		}
		if n := len(store.List()); n != 0 {
			t.Fatalf("Expected nothing stored, got %d", n)
		}
	})
}

func TestLargestCandidateDrivesCrop(t *testing.T) {
	engine, store, _ := newEngine(t, testConfig(0, 0),
		models.Candidate{X: 100, Y: 100, Radius: 30},
		models.Candidate{X: 300, Y: 200, Radius: 60},
		models.Candidate{X: 500, Y: 300, Radius: 60},
	)

	out := process(t, engine, t0)
	out.Close()

	movements := store.List()
	if len(movements) != 1 {
		t.Fatalf("Expected one movement, got %d", len(movements))
	}
	if b := movements[0].Image.Bounds(); b.Dx() != 150 || b.Dy() != 150 {
		t.Fatalf("Expected 150x150 crop from the largest circle, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestSelectCandidate(t *testing.T) {
	got := selectCandidate([]models.Candidate{
		{X: 1, Radius: 10},
		{X: 2, Radius: 40},
		{X: 3, Radius: 40},
	})
	if got.X != 2 {
		t.Fatalf("Expected first largest candidate, got %+v", got)
	}
}

func TestCropRectClampsToFrame(t *testing.T) {
	tests := []struct {
		name string
		c    models.Candidate
		want image.Rectangle
	}{
		{"centered", models.Candidate{X: 320, Y: 240, Radius: 50}, image.Rect(258, 178, 382, 302)},
		{"top left corner", models.Candidate{X: 10, Y: 10, Radius: 40}, image.Rect(0, 0, 60, 60)},
		{"bottom right corner", models.Candidate{X: 630, Y: 470, Radius: 40}, image.Rect(580, 420, 640, 480)},
		{"larger than frame", models.Candidate{X: 320, Y: 240, Radius: 1000}, image.Rect(0, 0, 640, 480)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cropRect(tt.c, 640, 480); got != tt.want {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestStoreFailureDoesNotStopProcessing(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	engine, err := New(testConfig(0, 0), &fakeFinder{candidates: []models.Candidate{{X: 320, Y: 240, Radius: 50}}}, store, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	out := process(t, engine, t0)
	out.Close()

	if engine.State().Saving {
		t.Fatal("Expected save cycle to complete despite store failure")
	}
}

func TestTimestampUsesConfiguredLocation(t *testing.T) {
	cfg := testConfig(0, 0)
	cfg.Timezone = ""
	engine, store, _ := newEngine(t, cfg, models.Candidate{X: 320, Y: 240, Radius: 50})

	local := t0.In(time.FixedZone("X", 5*3600))
	out := process(t, engine, local)
	out.Close()

	m := store.List()[0]
	if m.Timestamp.Location() != time.UTC || !m.Timestamp.Equal(t0) {
		t.Fatalf("Expected UTC timestamp for %v, got %v", t0, m.Timestamp)
	}
}

func TestBlankFrameWithHoughTransform(t *testing.T) {
	store := &fakeStore{}
	engine, err := New(testConfig(0, 0), nil, store, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var notified int
	engine.Attach(observer.NewFunc(func(string) error {
		notified++
		return nil
	}))

	out := process(t, engine, t0)
	out.Close()

	if notified != 0 || len(store.List()) != 0 {
		t.Fatalf("Expected no detection on a blank frame, got %d notifications", notified)
	}
}

func TestHoughFinderFindsDisc(t *testing.T) {
	cfg := config.Detection{DP: 1, MinDist: 100, Param1: 100, Param2: 20, MinRadius: 30, MaxRadius: 80}

	frame := blankFrame()
	defer frame.Close()
	gocv.Circle(&frame, image.Pt(320, 240), 50, color.RGBA{R: 255, G: 255, B: 255}, -1)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	gocv.MedianBlur(gray, &gray, medianKernelSize)

	candidates := NewHoughFinder(cfg).FindCircles(gray)
	if len(candidates) == 0 {
		t.Fatal("Expected the disc to be found")
	}
	c := candidates[0]
	if abs(c.X-320) > 5 || abs(c.Y-240) > 5 || abs(c.Radius-50) > 5 {
		t.Fatalf("Expected circle near (320,240) r=50, got %+v", c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
