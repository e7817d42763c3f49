// Package recorder orchestrates one recording end to end: page acquisition,
// navigation, surface detection, capture, and encoding.
package recorder

import (
	"context"
	"net/url"
	"time"

	"github.com/dgnsrekt/flowcapture/internal/browser"
	"github.com/dgnsrekt/flowcapture/internal/encoder"
	"github.com/dgnsrekt/flowcapture/internal/recording"
	"github.com/dgnsrekt/flowcapture/internal/store"
)

// Page is the slice of a browser tab the orchestrator drives.
type Page interface {
	Navigate(ctx context.Context, url string, opts browser.NavigateOptions) error
	Eval(ctx context.Context, js string, out any) error
	EvalWithTimeout(ctx context.Context, js string, out any, timeout time.Duration) error
	Screenshot(ctx context.Context, clip *recording.Rect) ([]byte, error)
	Viewport(ctx context.Context) (recording.Size, error)
	Closed() bool
}

// Browser hands out pages against the shared browser process.
type Browser interface {
	Acquire(ctx context.Context) (Page, error)
	Release(p Page)
}

// Encoder is the slice of the ffmpeg bridge the orchestrator invokes.
type Encoder interface {
	EncodeFrames(ctx context.Context, framesDir, outputPath string, opts encoder.Options) error
	Convert(ctx context.Context, inputPath, outputPath string, opts encoder.Options) error
}

// Config tunes orchestration timing.
type Config struct {
	NavigateAttempts  int
	CanvasWaitTimeout time.Duration
	StopFlushTimeout  time.Duration
	HeuristicCeiling  time.Duration
	HeuristicPoll     time.Duration
}

func (c *Config) normalize() {
	if c.NavigateAttempts < 1 {
		c.NavigateAttempts = 3
	}
	if c.CanvasWaitTimeout <= 0 {
		c.CanvasWaitTimeout = 10 * time.Second
	}
	if c.StopFlushTimeout <= 0 {
		c.StopFlushTimeout = 10 * time.Second
	}
	if c.HeuristicCeiling <= 0 {
		c.HeuristicCeiling = 5 * time.Minute
	}
	if c.HeuristicPoll <= 0 {
		c.HeuristicPoll = 2 * time.Second
	}
}

// Recorder builds jobs against a shared browser, an encoder bridge, and
// the recordings store.
type Recorder struct {
	browser Browser
	encoder Encoder
	store   *store.Store
	cfg     Config
}

// New creates a Recorder.
func New(b Browser, e Encoder, s *store.Store, cfg Config) *Recorder {
	cfg.normalize()
	return &Recorder{browser: b, encoder: e, store: s, cfg: cfg}
}

// Record runs one recording to completion without an external stop handle.
func (r *Recorder) Record(ctx context.Context, req recording.Request) recording.Result {
	return r.NewJob(req).Run(ctx)
}

// ManagerBrowser adapts the concrete browser manager to the Browser
// interface used here.
type ManagerBrowser struct {
	Manager *browser.Manager
}

func (b ManagerBrowser) Acquire(ctx context.Context) (Page, error) {
	p, err := b.Manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (b ManagerBrowser) Release(p Page) {
	if bp, ok := p.(*browser.Page); ok {
		b.Manager.Release(bp)
	}
}

// withScaling appends display-scaling directives to the target URL as
// query parameters, preserving any it already carries.
func withScaling(raw string, scaling map[string]string) string {
	if len(scaling) == 0 {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, v := range scaling {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
