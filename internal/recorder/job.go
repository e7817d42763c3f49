package recorder

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/flowcapture/internal/browser"
	"github.com/dgnsrekt/flowcapture/internal/canvas"
	"github.com/dgnsrekt/flowcapture/internal/capture"
	"github.com/dgnsrekt/flowcapture/internal/encoder"
	"github.com/dgnsrekt/flowcapture/internal/recording"
	"github.com/dgnsrekt/flowcapture/internal/store"
)

// Job is one recording in flight. Run drives it to completion; Stop may be
// called from any goroutine to end capture early.
type Job struct {
	r   *Recorder
	req recording.Request

	// Optional phase hooks, set before Run. OnCapturing fires once capture
	// is live; OnProcessing fires when capture has ended and encoding
	// begins.
	OnCapturing  func()
	OnProcessing func()

	mu       sync.Mutex
	strategy capture.Strategy
	stopped  bool

	frameCount func() int
}

// NewJob prepares a job without starting it.
func (r *Recorder) NewJob(req recording.Request) *Job {
	return &Job{r: r, req: req}
}

// Run executes the recording and always returns a terminal Result. This is
// the error boundary: no failure below it escapes as an error value, and
// cleanup releases only this job's page, never the shared browser.
func (j *Job) Run(ctx context.Context) recording.Result {
	start := time.Now()
	fail := func(err error) recording.Result {
		slog.Error("recording failed", "url", j.req.URL, "error", err)
		return recording.Failure(err, time.Since(start))
	}

	if err := j.req.Validate(); err != nil {
		return fail(err)
	}

	page, err := j.r.browser.Acquire(ctx)
	if err != nil {
		return fail(err)
	}
	defer j.r.browser.Release(page)

	target := withScaling(j.req.URL, j.req.Scaling)
	err = page.Navigate(ctx, target, browser.NavigateOptions{
		Attempts:   j.r.cfg.NavigateAttempts,
		WaitCanvas: true,
	})
	if err != nil {
		return fail(err)
	}

	// Overlay chrome is cosmetic; a failed hide is not worth aborting for.
	if err := canvas.HideUI(ctx, page); err != nil {
		slog.Warn("hide overlay chrome failed", "error", err)
	}

	info, err := j.detectSurface(ctx, page)
	if err != nil {
		return fail(err)
	}

	resolution, err := j.resolveResolution(ctx, page, info)
	if err != nil {
		return fail(err)
	}

	dir, framesDir, err := j.r.store.Allocate(j.req.URL)
	if err != nil {
		return fail(recording.NewError(recording.CodeCaptureFailed, "allocate recording directory", err))
	}

	strategy := j.buildStrategy(page, info, framesDir)
	if !j.setStrategy(strategy) {
		return fail(recording.NewError(recording.CodeCaptureFailed, "stopped before capture started", nil))
	}

	if err := strategy.Start(ctx); err != nil {
		return fail(err)
	}
	if j.OnCapturing != nil {
		j.OnCapturing()
	}

	runCtx, cancelWatch := context.WithCancel(ctx)
	if j.req.StopPolicy == recording.StopHeuristic {
		go j.watchForCompletion(runCtx, page)
	}
	runErr := strategy.Run(ctx)
	cancelWatch()
	if runErr != nil {
		_, _ = strategy.Stop(ctx)
		return fail(runErr)
	}

	stopInfo, err := strategy.Stop(ctx)
	if err != nil {
		return fail(err)
	}
	if j.OnProcessing != nil {
		j.OnProcessing()
	}

	outputPath, err := j.finalize(ctx, dir, framesDir, stopInfo, resolution)
	if err != nil {
		return fail(err)
	}

	elapsed := time.Since(start)
	slog.Info("recording complete",
		"url", j.req.URL, "output", outputPath,
		"elapsed", elapsed, "frames", stopInfo.FrameCount)
	return recording.Result{
		Success:            true,
		OutputPath:         outputPath,
		Elapsed:            elapsed,
		ElapsedSeconds:     elapsed.Seconds(),
		SampleCount:        stopInfo.FrameCount,
		AchievedResolution: resolution,
	}
}

// Stop requests an early end to capture. Idempotent; safe before Start,
// during Run, and after completion.
func (j *Job) Stop(ctx context.Context) {
	j.mu.Lock()
	j.stopped = true
	strategy := j.strategy
	j.mu.Unlock()

	if strategy != nil {
		_, _ = strategy.Stop(ctx)
	}
}

// FrameCount reports progress for sampled jobs, 0 otherwise.
func (j *Job) FrameCount() int {
	j.mu.Lock()
	fn := j.frameCount
	j.mu.Unlock()
	if fn == nil {
		return 0
	}
	return fn()
}

func (j *Job) setStrategy(s capture.Strategy) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopped {
		return false
	}
	j.strategy = s
	return true
}

func (j *Job) detectSurface(ctx context.Context, page Page) (recording.CanvasInfo, error) {
	if j.req.WaitForCanvas {
		return canvas.WaitFor(ctx, page, j.r.cfg.CanvasWaitTimeout)
	}
	return canvas.Detect(ctx, page)
}

// resolveResolution picks the dimensions reported back to the caller:
// explicit request, then detected surface, then viewport. Stream capture
// records at the surface's intrinsic resolution rather than its CSS
// bounds, so that is what continuous mode reports.
func (j *Job) resolveResolution(ctx context.Context, page Page, info recording.CanvasInfo) (recording.Size, error) {
	if j.req.Width > 0 && j.req.Height > 0 {
		return recording.Size{Width: j.req.Width, Height: j.req.Height}, nil
	}
	if info.Detected {
		if j.req.Mode == recording.ModeContinuous &&
			info.IntrinsicSize.Width > 0 && info.IntrinsicSize.Height > 0 {
			return info.IntrinsicSize, nil
		}
		return recording.Size{
			Width:  int(info.Bounds.Width),
			Height: int(info.Bounds.Height),
		}, nil
	}
	return page.Viewport(ctx)
}

func (j *Job) captureDuration() time.Duration {
	switch j.req.StopPolicy {
	case recording.StopTimer:
		return time.Duration(j.req.Duration * float64(time.Second))
	case recording.StopHeuristic:
		return j.r.cfg.HeuristicCeiling
	default:
		return 0
	}
}

func (j *Job) buildStrategy(page Page, info recording.CanvasInfo, framesDir string) capture.Strategy {
	if j.req.Mode == recording.ModeSampled {
		var clip *recording.Rect
		if info.Detected {
			b := info.Bounds
			clip = &b
		}
		sampler := capture.NewFrameSampler(capture.SamplerConfig{
			Dir:       framesDir,
			FrameRate: j.req.FrameRate,
			Duration:  j.captureDuration(),
			Capture: func(ctx context.Context) ([]byte, error) {
				return page.Screenshot(ctx, clip)
			},
		})
		j.mu.Lock()
		j.frameCount = sampler.FrameCount
		j.mu.Unlock()
		return sampler
	}

	return capture.NewContinuousCapturer(page, capture.ContinuousConfig{
		FrameRate:        j.req.FrameRate,
		Duration:         j.captureDuration(),
		StopFlushTimeout: j.r.cfg.StopFlushTimeout,
	})
}

// completionJS reports whether the prototype surfaced a replay affordance,
// the signal that a run-through finished playing.
var completionJS = browser.WrapJS(`var sel = [
'[aria-label*="restart" i]',
'[aria-label*="replay" i]',
'[aria-label*="play again" i]',
'[class*="restart" i]',
'[class*="replay" i]'
].join(",");
var els = document.querySelectorAll(sel);
var found = false;
for (var i = 0; i < els.length; i++) {
var r = els[i].getBoundingClientRect();
if (r.width > 0 && r.height > 0) { found = true; break; }
}
return JSON.stringify({ok:true,data:{finished: found}});`)

// watchForCompletion polls the page for a replay marker and stops capture
// when one appears. The ceiling duration on the strategy bounds the worst
// case where no marker ever shows.
func (j *Job) watchForCompletion(ctx context.Context, page Page) {
	ticker := time.NewTicker(j.r.cfg.HeuristicPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var state struct {
			Finished bool `json:"finished"`
		}
		if err := page.Eval(ctx, completionJS, &state); err != nil {
			if browser.IsPageGone(err) {
				return
			}
			slog.Debug("completion probe failed", "error", err)
			continue
		}
		if state.Finished {
			slog.Info("playback completion detected, stopping capture")
			j.Stop(ctx)
			return
		}
	}
}

// rawStreamFile holds the stream capture until finalize settles its
// container and scaling.
const rawStreamFile = "stream.webm"

// finalize turns the raw capture output into the requested container.
// Frame material and intermediate containers survive an encoding failure.
func (j *Job) finalize(ctx context.Context, dir, framesDir string, info capture.StopInfo, resolution recording.Size) (string, error) {
	opts := encoder.Options{
		FrameRate: j.req.FrameRate,
		Format:    j.req.Format,
		Quality:   j.req.Quality,
		Width:     j.req.Width,
		Height:    j.req.Height,
	}

	if j.req.Mode == recording.ModeSampled {
		if _, err := capture.FillGaps(framesDir); err != nil {
			return "", recording.NewError(recording.CodeEncodingFailed, "fill frame gaps", err)
		}
		outputPath := store.VideoPath(dir, j.req.Format)
		if err := j.r.encoder.EncodeFrames(ctx, framesDir, outputPath, opts); err != nil {
			return "", err
		}
		return outputPath, nil
	}

	rawPath := filepath.Join(dir, rawStreamFile)
	if err := os.WriteFile(rawPath, info.Data, 0o644); err != nil {
		return "", recording.NewError(recording.CodeEncodingFailed, "write stream capture", err)
	}

	// The stream records at the surface's own resolution. Explicit target
	// dimensions force a pass through the encoder's scale filter even when
	// the container already matches.
	outputPath := store.VideoPath(dir, j.req.Format)
	rescale := j.req.Width > 0 && j.req.Height > 0
	if j.req.Format == recording.FormatWebM && !rescale {
		if err := os.Rename(rawPath, outputPath); err != nil {
			return "", recording.NewError(recording.CodeEncodingFailed, "finalize stream capture", err)
		}
		return outputPath, nil
	}

	if err := j.r.encoder.Convert(ctx, rawPath, outputPath, opts); err != nil {
		return "", err
	}
	_ = os.Remove(rawPath)
	return outputPath, nil
}
