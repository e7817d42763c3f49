package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/flowcapture/internal/browser"
	"github.com/dgnsrekt/flowcapture/internal/recording"
)

// StreamPage is the slice of a page the continuous capturer needs.
type StreamPage interface {
	Eval(ctx context.Context, js string, out any) error
	EvalWithTimeout(ctx context.Context, js string, out any, timeout time.Duration) error
	Closed() bool
}

// ContinuousConfig configures a ContinuousCapturer.
type ContinuousConfig struct {
	FrameRate        int
	Duration         time.Duration // 0 means run until Stop
	StopFlushTimeout time.Duration // in-page bound on final data delivery
}

// ContinuousCapturer records the render surface in-page with a stream
// recorder, so frame pacing is handled by the browser's own compositor
// rather than an external polling loop. The result is a single media
// container delivered at stop time.
type ContinuousCapturer struct {
	cfg  ContinuousConfig
	page StreamPage

	mu    sync.Mutex
	state string

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	stopInfo StopInfo
	stopErr  error
}

// NewContinuousCapturer creates an idle capturer bound to page.
func NewContinuousCapturer(page StreamPage, cfg ContinuousConfig) *ContinuousCapturer {
	if cfg.StopFlushTimeout <= 0 {
		cfg.StopFlushTimeout = 10 * time.Second
	}
	return &ContinuousCapturer{
		cfg:    cfg,
		page:   page,
		state:  StateIdle,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// startJS locates the largest qualifying surface, derives a media stream
// from it, and starts an in-page recorder with a one second timeslice so
// data accumulates incrementally instead of in one terminal burst.
var startJS = browser.WrapJS(`if (window.__fc_rec) {
return JSON.stringify({ok:false,error_code:"CAPTURE_FAILED",error_message:"recorder already active"});
}
var els = document.querySelectorAll("canvas");
var best = null, bestArea = 0;
for (var i = 0; i < els.length; i++) {
var r = els[i].getBoundingClientRect();
if (r.width < 100 || r.height < 100) continue;
var area = r.width * r.height;
if (area > bestArea) { best = els[i]; bestArea = area; }
}
if (!best) {
return JSON.stringify({ok:false,error_code:"CANVAS_NOT_FOUND",error_message:"no qualifying render surface"});
}
if (!best.width || !best.height) {
return JSON.stringify({ok:false,error_code:"CAPTURE_FAILED",error_message:"render surface has zero intrinsic size"});
}
var stream = best.captureStream(%FPS%);
if (!stream || stream.getVideoTracks().length === 0) {
return JSON.stringify({ok:false,error_code:"CAPTURE_FAILED",error_message:"surface produced no video track"});
}
var prefs = ["video/webm;codecs=vp9", "video/webm;codecs=vp8", "video/webm"];
var mime = "";
for (var j = 0; j < prefs.length; j++) {
if (MediaRecorder.isTypeSupported(prefs[j])) { mime = prefs[j]; break; }
}
if (!mime) {
return JSON.stringify({ok:false,error_code:"CAPTURE_FAILED",error_message:"no supported recording codec"});
}
var rec = new MediaRecorder(stream, {mimeType: mime});
var chunks = [];
rec.ondataavailable = function(ev) { if (ev.data && ev.data.size > 0) chunks.push(ev.data); };
window.__fc_rec = {rec: rec, chunks: chunks, mime: mime};
rec.start(1000);
return JSON.stringify({ok:true,data:{mimeType: mime}});`)

var statusJS = browser.WrapJS(`var h = window.__fc_rec;
if (!h) {
return JSON.stringify({ok:false,error_code:"CAPTURE_FAILED",error_message:"recorder not active"});
}
return JSON.stringify({ok:true,data:{state: h.rec.state, chunks: h.chunks.length}});`)

// stopJS asks the recorder to flush and races the handoff against an
// in-page deadline, so a wedged recorder still yields whatever chunks it
// delivered. The payload crosses the protocol as base64 assembled in
// bounded slices to stay under argument size limits.
var stopJS = browser.WrapJSAsync(`var h = window.__fc_rec;
if (!h) {
return JSON.stringify({ok:false,error_code:"CAPTURE_FAILED",error_message:"recorder not active"});
}
delete window.__fc_rec;
var flushed = new Promise(function(resolve) {
if (h.rec.state === "inactive") { resolve(true); return; }
h.rec.onstop = function() { resolve(true); };
h.rec.stop();
});
var timeout = new Promise(function(resolve) { setTimeout(function() { resolve(false); }, %FLUSH_MS%); });
var complete = await Promise.race([flushed, timeout]);
var blob = new Blob(h.chunks, {type: h.mime});
var buf = await blob.arrayBuffer();
var bytes = new Uint8Array(buf);
var parts = [];
for (var i = 0; i < bytes.length; i += 0x8000) {
parts.push(String.fromCharCode.apply(null, bytes.subarray(i, i + 0x8000)));
}
return JSON.stringify({ok:true,data:{
mimeType: h.mime,
complete: complete,
chunks: h.chunks.length,
base64: btoa(parts.join(""))
}});`)

// Start injects the in-page recorder and confirms it reached its recording
// state. Setup failures surface as distinct errors for absent surfaces,
// degenerate dimensions, missing tracks, and unsupported codecs.
func (c *ContinuousCapturer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return recording.NewError(recording.CodeValidation, "capturer already started", nil)
	}
	c.mu.Unlock()

	fps := c.cfg.FrameRate
	if fps <= 0 {
		fps = 10
	}
	js := strings.Replace(startJS, "%FPS%", fmt.Sprintf("%d", fps), 1)

	var started struct {
		MimeType string `json:"mimeType"`
	}
	if err := c.page.Eval(ctx, js, &started); err != nil {
		return err
	}
	slog.Info("stream recorder started", "mime_type", started.MimeType)

	if err := c.awaitRecording(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = StateCapturing
	c.mu.Unlock()
	return nil
}

// awaitRecording polls the recorder until it reports the recording state.
// A recorder that never leaves its initial state within the window is a
// capture failure, not a silent empty recording.
func (c *ContinuousCapturer) awaitRecording(ctx context.Context) error {
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		var st struct {
			State  string `json:"state"`
			Chunks int    `json:"chunks"`
		}
		if err := c.page.Eval(ctx, statusJS, &st); err != nil {
			return err
		}
		if st.State == "recording" {
			return nil
		}
		select {
		case <-ctx.Done():
			return recording.NewError(recording.CodeCaptureFailed, "canceled before recording state", ctx.Err())
		case <-deadline:
			return recording.NewError(recording.CodeCaptureFailed,
				fmt.Sprintf("recorder stuck in %q state", st.State), nil)
		case <-ticker.C:
		}
	}
}

// Run blocks until the duration elapses, Stop is called, or the page is
// lost. Health is checked periodically because the in-page recorder cannot
// report its own tab's death.
func (c *ContinuousCapturer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateCapturing {
		c.mu.Unlock()
		return recording.NewError(recording.CodeValidation, "capturer not started", nil)
	}
	c.mu.Unlock()
	defer close(c.doneCh)

	var deadline <-chan time.Time
	if c.cfg.Duration > 0 {
		deadline = time.After(c.cfg.Duration)
	}
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		case <-deadline:
			return nil
		case <-health.C:
			if c.page.Closed() {
				slog.Warn("page lost during continuous capture")
				return nil
			}
		}
	}
}

// Stop flushes the in-page recorder under a bounded deadline and returns
// the assembled container bytes. A partial flush is still a success: the
// data collected so far comes back with a warning rather than an error.
// Safe to call multiple times; later calls return the first outcome.
func (c *ContinuousCapturer) Stop(ctx context.Context) (StopInfo, error) {
	c.stopOnce.Do(func() {
		close(c.stopCh)

		c.mu.Lock()
		started := c.state == StateCapturing
		c.state = StateStopped
		c.mu.Unlock()

		if started {
			select {
			case <-c.doneCh:
			case <-ctx.Done():
			}
		}

		// The flush runs detached from the caller's cancellation. Its own
		// outer timeout bounds it, and the in-page recorder still holds
		// every chunk a canceled caller would otherwise lose.
		c.stopInfo, c.stopErr = c.flush(context.WithoutCancel(ctx))
	})
	return c.stopInfo, c.stopErr
}

func (c *ContinuousCapturer) flush(ctx context.Context) (StopInfo, error) {
	js := strings.Replace(stopJS, "%FLUSH_MS%", fmt.Sprintf("%d", c.cfg.StopFlushTimeout.Milliseconds()), 1)

	var result struct {
		MimeType string `json:"mimeType"`
		Complete bool   `json:"complete"`
		Chunks   int    `json:"chunks"`
		Base64   string `json:"base64"`
	}
	// The outer bound leaves headroom over the in-page race so the race is
	// what normally fires.
	outer := c.cfg.StopFlushTimeout + 5*time.Second
	if err := c.page.EvalWithTimeout(ctx, js, &result, outer); err != nil {
		return StopInfo{}, recording.NewError(recording.CodeCaptureFailed, "flush stream recorder", err)
	}
	if !result.Complete {
		slog.Warn("stream flush timed out, returning partial data", "chunks", result.Chunks)
	}

	data, err := base64.StdEncoding.DecodeString(result.Base64)
	if err != nil {
		return StopInfo{}, recording.NewError(recording.CodeCaptureFailed, "decode stream payload", err)
	}
	if len(data) == 0 {
		return StopInfo{}, recording.NewError(recording.CodeCaptureFailed, "stream recorder produced no data", nil)
	}
	slog.Info("stream capture flushed", "bytes", len(data), "chunks", result.Chunks, "complete", result.Complete)

	return StopInfo{Data: data, MimeType: result.MimeType}, nil
}

// State reports the capturer state.
func (c *ContinuousCapturer) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
