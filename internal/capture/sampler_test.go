package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func runSampler(t *testing.T, s *FrameSampler) StopInfo {
	t.Helper()
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	wg.Wait()
	info, err := s.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	return info
}

func TestSamplerTimerProducesContiguousFrames(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	captures := 0
	s := NewFrameSampler(SamplerConfig{
		Dir:       dir,
		FrameRate: 50,
		Duration:  400 * time.Millisecond,
		Capture: func(ctx context.Context) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			captures++
			return []byte(fmt.Sprintf("png-%d", captures)), nil
		},
	})

	info := runSampler(t, s)

	if info.FrameCount == 0 {
		t.Fatal("no frames captured within the timer window")
	}
	// 400ms at 50fps targets 20 frames. Scheduler jitter moves the count, so
	// only gross deviation fails.
	if info.FrameCount < 5 || info.FrameCount > 30 {
		t.Fatalf("frame count = %d, want roughly 20", info.FrameCount)
	}
	for i := 0; i < info.FrameCount; i++ {
		path := filepath.Join(dir, FrameFilename(i))
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("frame %d missing: %v", i, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, FrameFilename(info.FrameCount))); err == nil {
		t.Fatalf("found frame beyond reported count %d", info.FrameCount)
	}
}

func TestSamplerDuplicatesOnCaptureFailure(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	calls := 0
	s := NewFrameSampler(SamplerConfig{
		Dir:       dir,
		FrameRate: 100,
		Duration:  300 * time.Millisecond,
		Capture: func(ctx context.Context) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls%3 == 0 {
				return nil, errors.New("screenshot glitch")
			}
			return []byte(fmt.Sprintf("png-%d", calls)), nil
		},
	})

	info := runSampler(t, s)

	if info.FrameCount < 3 {
		t.Fatalf("FrameCount = %d, want at least 3", info.FrameCount)
	}
	// Every ordinal must exist; failed ticks hold a copy of the previous
	// good frame.
	var prev []byte
	for i := 0; i < info.FrameCount; i++ {
		data, err := os.ReadFile(filepath.Join(dir, FrameFilename(i)))
		if err != nil {
			t.Fatalf("frame %d missing: %v", i, err)
		}
		if len(data) == 0 {
			t.Fatalf("frame %d is empty", i)
		}
		prev = data
	}
	_ = prev
}

func TestSamplerStopsOnPageGone(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	calls := 0
	s := NewFrameSampler(SamplerConfig{
		Dir:       dir,
		FrameRate: 100,
		Capture: func(ctx context.Context) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls > 2 {
				return nil, context.Canceled
			}
			return []byte("png"), nil
		},
	})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after the page went away")
	}

	info, err := s.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if info.FrameCount != 2 {
		t.Fatalf("FrameCount = %d, want 2", info.FrameCount)
	}
}

func TestSamplerStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := NewFrameSampler(SamplerConfig{
		Dir:       dir,
		FrameRate: 100,
		Capture: func(ctx context.Context) ([]byte, error) {
			return []byte("png"), nil
		},
	})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	go func() { _ = s.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	first, err := s.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	second, err := s.Stop(ctx)
	if err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if first.FrameCount != second.FrameCount {
		t.Fatalf("Stop() counts diverged: %d then %d", first.FrameCount, second.FrameCount)
	}
	if s.State() != StateStopped {
		t.Fatalf("State() = %q, want %q", s.State(), StateStopped)
	}
}

func TestSamplerStartRequiresCapture(t *testing.T) {
	s := NewFrameSampler(SamplerConfig{Dir: t.TempDir(), FrameRate: 10})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() accepted a nil capture function")
	}
}
