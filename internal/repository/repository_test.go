package repository

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: 100, B: uint8(y * 16), A: 255})
		}
	}
	return img
}

type fakeSink struct {
	mu    sync.Mutex
	calls []models.Movement
	err   error
}

func (f *fakeSink) SaveImages(_ context.Context, movement models.Movement, color, gray []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(color) == 0 || len(gray) == 0 {
		return errors.New("empty payload")
	}
	f.calls = append(f.calls, movement)
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestMemoryRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryRepository(quietLogger())
	ts := time.Date(2023, 10, 1, 12, 0, 0, 0, time.UTC)

	in := []models.Movement{
		{Timestamp: ts, Description: "first"},
		{Timestamp: ts.Add(time.Second), Description: "second"},
	}
	for _, m := range in {
		if err := repo.Add(m); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	out := repo.List()
	if len(out) != len(in) {
		t.Fatalf("Expected %d movements, got %d", len(in), len(out))
	}
	for i := range in {
		if !out[i].Equal(in[i]) {
			t.Errorf("movement %d: expected %+v, got %+v", i, in[i], out[i])
		}
	}

	repo.Clear()
	if n := len(repo.List()); n != 0 {
		t.Fatalf("Expected empty repository after Clear, got %d", n)
	}
}

func TestMemoryRepositoryListIsCopy(t *testing.T) {
	repo := NewMemoryRepository(quietLogger())
	repo.Add(models.Movement{Description: "a"})

	list := repo.List()
	list[0].Description = "mutated"

	if repo.List()[0].Description != "a" {
		t.Fatal("List must not expose internal storage")
	}
}

func TestMemoryRepositoryConcurrentAdd(t *testing.T) {
	repo := NewMemoryRepository(quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repo.Add(models.Movement{Description: "m"})
		}()
	}
	wg.Wait()

	if n := len(repo.List()); n != 50 {
		t.Fatalf("Expected 50 movements, got %d", n)
	}
}

func TestImageRepositoryPersistsInBackground(t *testing.T) {
	sink := &fakeSink{}
	repo := NewImageRepository(quietLogger(), ImageOptions{QueueSize: 4, Workers: 1}, sink)

	if err := repo.Add(models.Movement{Timestamp: time.Now(), Description: "with image", Image: testImage()}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := repo.Add(models.Movement{Timestamp: time.Now(), Description: "no image"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	repo.Close()

	if n := len(repo.List()); n != 2 {
		t.Fatalf("Expected 2 movements, got %d", n)
	}
	if n := sink.count(); n != 1 {
		t.Fatalf("Expected 1 persisted image, got %d", n)
	}
}

func TestImageRepositorySinkFailureIsContained(t *testing.T) {
	failing := &fakeSink{err: errors.New("disk full")}
	healthy := &fakeSink{}
	repo := NewImageRepository(quietLogger(), ImageOptions{}, failing, healthy)
	defer repo.Close()

	m := models.Movement{Timestamp: time.Now(), Description: "d", Image: testImage()}
	err := repo.PersistImage(context.Background(), m)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("Expected ErrStorage, got %v", err)
	}
	if healthy.count() != 1 {
		t.Fatal("Expected healthy sink to be written despite the failing one")
	}
}

func TestImageRepositoryPersistWithoutImage(t *testing.T) {
	repo := NewImageRepository(quietLogger(), ImageOptions{})
	defer repo.Close()

	if err := repo.PersistImage(context.Background(), models.Movement{}); !errors.Is(err, ErrStorage) {
		t.Fatalf("Expected ErrStorage, got %v", err)
	}
}

func TestImageRepositoryAddAfterClose(t *testing.T) {
	repo := NewImageRepository(quietLogger(), ImageOptions{})
	repo.Close()
	repo.Close()

	if err := repo.Add(models.Movement{Description: "late"}); !errors.Is(err, ErrStorage) {
		t.Fatalf("Expected ErrStorage after Close, got %v", err)
	}
}

func TestFileSinkWritesColorAndGray(t *testing.T) {
	dir := t.TempDir() + "/frames"
	sink := NewFileSink(dir, quietLogger())
	repo := NewImageRepository(quietLogger(), ImageOptions{}, sink)
	defer repo.Close()

	m := models.Movement{
		Timestamp:   time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("MSK", 3*3600)),
		Description: "Circle detected in frame",
		Image:       testImage(),
	}
	if err := repo.PersistImage(context.Background(), m); err != nil {
		t.Fatalf("PersistImage failed: %v", err)
	}

	for _, path := range []string{sink.ColorPath(m), sink.GrayPath(m)} {
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("Expected %s to exist: %v", path, err)
		}
		_, format, err := image.DecodeConfig(f)
		f.Close()
		if err != nil || format != "jpeg" {
			t.Errorf("Expected jpeg at %s, got %q (%v)", path, format, err)
		}
	}
}
