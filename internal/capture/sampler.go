package capture

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/flowcapture/internal/browser"
	"github.com/dgnsrekt/flowcapture/internal/recording"
)

// CaptureFunc captures one frame of the target surface as PNG bytes.
type CaptureFunc func(ctx context.Context) ([]byte, error)

// SamplerConfig configures a FrameSampler.
type SamplerConfig struct {
	Dir       string        // frames directory, created on Start
	FrameRate int           // samples per second
	Duration  time.Duration // 0 means run until Stop
	Capture   CaptureFunc
}

// FrameSampler polls screenshots at a fixed cadence. The ordinal sequence
// it produces is gap-free by construction: a failed tick still claims its
// ordinal and receives a duplicate of the most recent good frame.
type FrameSampler struct {
	cfg SamplerConfig

	mu       sync.Mutex
	state    string
	frames   int
	lastGood string // path of the last successfully captured frame

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewFrameSampler creates an idle sampler.
func NewFrameSampler(cfg SamplerConfig) *FrameSampler {
	return &FrameSampler{
		cfg:    cfg,
		state:  StateIdle,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start validates the configuration and prepares the frames directory.
func (s *FrameSampler) Start(ctx context.Context) error {
	if s.cfg.Capture == nil {
		return recording.NewError(recording.CodeValidation, "sampler requires a capture function", nil)
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return recording.NewError(recording.CodeCaptureFailed, "create frames directory", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return recording.NewError(recording.CodeValidation, "sampler already started", nil)
	}
	s.state = StateCapturing
	return nil
}

// Run drives the tick loop until the duration elapses, Stop is called, the
// context is canceled, or the page goes away. Ticks never overlap: each
// capture completes before the next tick is considered.
func (s *FrameSampler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCapturing {
		s.mu.Unlock()
		return recording.NewError(recording.CodeValidation, "sampler not started", nil)
	}
	s.mu.Unlock()
	defer close(s.doneCh)

	interval := intervalFor(s.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if s.cfg.Duration > 0 {
		deadline = time.After(s.cfg.Duration)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-deadline:
			return nil
		case <-ticker.C:
			if done := s.captureTick(ctx); done {
				return nil
			}
		}
	}
}

// captureTick performs one capture. Returns true when the loop should end
// (page closed). Per-tick failures are recovered locally and never abort
// the loop.
func (s *FrameSampler) captureTick(ctx context.Context) bool {
	data, err := s.cfg.Capture(ctx)

	s.mu.Lock()
	ordinal := s.frames
	s.frames++
	lastGood := s.lastGood
	s.mu.Unlock()

	path := filepath.Join(s.cfg.Dir, FrameFilename(ordinal))

	if err != nil {
		if browser.IsPageGone(err) {
			slog.Info("page closed during sampling, stopping", "frame", ordinal)
			// Reclaim the ordinal: no file will exist for it.
			s.mu.Lock()
			s.frames--
			s.mu.Unlock()
			return true
		}
		slog.Warn("frame capture failed, duplicating previous", "frame", ordinal, "error", err)
		s.duplicate(lastGood, path, ordinal)
		return false
	}

	if writeErr := os.WriteFile(path, data, 0o644); writeErr != nil {
		slog.Warn("frame write failed, duplicating previous", "frame", ordinal, "error", writeErr)
		s.duplicate(lastGood, path, ordinal)
		return false
	}

	s.mu.Lock()
	s.lastGood = path
	s.mu.Unlock()
	return false
}

// duplicate copies the nearest earlier successful frame under the new
// ordinal so the sequence stays contiguous.
func (s *FrameSampler) duplicate(lastGood, path string, ordinal int) {
	if lastGood == "" {
		// Nothing captured yet; the post-hoc gap scan fills this from a
		// forward neighbor before encoding.
		slog.Debug("no earlier frame to duplicate", "frame", ordinal)
		return
	}
	data, err := os.ReadFile(lastGood)
	if err != nil {
		slog.Warn("read previous frame for duplication failed", "frame", ordinal, "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Warn("write duplicated frame failed", "frame", ordinal, "error", err)
	}
}

// Stop cancels the tick loop, waits for it to drain, and reports the total
// frame count. Safe to call multiple times and from any goroutine.
func (s *FrameSampler) Stop(ctx context.Context) (StopInfo, error) {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		started := s.state == StateCapturing
		s.mu.Unlock()

		if started {
			select {
			case <-s.doneCh:
			case <-ctx.Done():
			}
		}

		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return StopInfo{FrameCount: s.frames}, nil
}

// FrameCount reports the frames claimed so far.
func (s *FrameSampler) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// State reports the sampler state.
func (s *FrameSampler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
