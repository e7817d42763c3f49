package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/flowcapture/internal/recording"
)

// pageGoneHints are substrings in error causes that indicate the tab or the
// browser behind it is gone, as opposed to an ordinary evaluation failure.
var pageGoneHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

// IsPageGone reports whether err indicates the page is no longer usable.
func IsPageGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range pageGoneHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// NavigateOptions control retried navigation and arrival verification.
type NavigateOptions struct {
	Attempts    int
	TitleMarker string // arrival confirmed when the title contains this
	WaitCanvas  bool   // arrival confirmed when a canvas element exists
}

// Page is a single tab in the shared browser, owned by one recording.
type Page struct {
	ctx             context.Context
	cancel          context.CancelFunc
	navigateTimeout time.Duration
	evalTimeout     time.Duration
	closed          atomic.Bool
}

// evalEnvelope is the JSON contract every injected script resolves to.
type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// WrapJS wraps a script body in an IIFE that resolves to the JSON envelope.
// The body must end with `return JSON.stringify({ok:true,data:...})`.
func WrapJS(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + recording.CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

// WrapJSAsync is WrapJS for bodies that await.
func WrapJSAsync(body string) string {
	return `(async function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + recording.CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

// Navigate loads url with bounded retries. Each attempt waits only for a
// content-loaded readiness level, not network idle, because prototype pages
// keep background connections open indefinitely. Arrival is verified via
// the configured markers before an attempt counts as successful.
func (p *Page) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	return navigateWithRetry(ctx, url, opts.Attempts, func(ctx context.Context) error {
		return p.navigateOnce(ctx, url, opts)
	})
}

func navigateWithRetry(ctx context.Context, url string, attempts int, once func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return recording.NewError(recording.CodeNavigationFailed, "navigation canceled", err)
		}
		err := once(ctx)
		if err == nil {
			slog.Info("navigation complete", "url", url, "attempt", attempt)
			return nil
		}
		lastErr = err
		slog.Warn("navigation attempt failed", "url", url, "attempt", attempt, "max", attempts, "error", err)
		if IsPageGone(err) {
			break
		}
	}
	return recording.NewError(recording.CodeNavigationFailed,
		fmt.Sprintf("page did not reach a recognizable state after %d attempts", attempts), lastErr)
}

func (p *Page) navigateOnce(ctx context.Context, url string, opts NavigateOptions) error {
	runCtx, cancel := context.WithTimeout(p.ctx, p.navigateTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, errText, _, err := cdppage.Navigate(url).Do(ctx)
			if err != nil {
				return err
			}
			if errText != "" {
				return fmt.Errorf("navigate: %s", errText)
			}
			return nil
		}),
		chromedp.Poll(`document.readyState === "interactive" || document.readyState === "complete"`,
			nil, chromedp.WithPollingInterval(200*time.Millisecond)),
	)
	if err != nil {
		p.noteError(err)
		return err
	}

	return p.verifyArrival(ctx, opts)
}

func (p *Page) verifyArrival(ctx context.Context, opts NavigateOptions) error {
	if opts.TitleMarker == "" && !opts.WaitCanvas {
		return nil
	}

	var state struct {
		Title     string `json:"title"`
		HasCanvas bool   `json:"has_canvas"`
	}
	js := WrapJS(`return JSON.stringify({ok:true,data:{
title: document.title || "",
has_canvas: !!document.querySelector("canvas")
}});`)
	if err := p.Eval(ctx, js, &state); err != nil {
		return err
	}

	if opts.TitleMarker != "" && strings.Contains(strings.ToLower(state.Title), strings.ToLower(opts.TitleMarker)) {
		return nil
	}
	if opts.WaitCanvas && state.HasCanvas {
		return nil
	}
	return fmt.Errorf("arrival markers not found (title=%q, canvas=%v)", state.Title, state.HasCanvas)
}

// Eval runs an envelope-wrapped script on the page and decodes its data
// payload into out (which may be nil).
func (p *Page) Eval(ctx context.Context, js string, out any) error {
	return p.eval(ctx, js, out, p.evalTimeout)
}

// EvalWithTimeout is Eval with a per-call timeout override, used by the
// continuous capturer's bounded stop flush.
func (p *Page) EvalWithTimeout(ctx context.Context, js string, out any, timeout time.Duration) error {
	return p.eval(ctx, js, out, timeout)
}

func (p *Page) eval(ctx context.Context, js string, out any, timeout time.Duration) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var raw string
	err := chromedp.Run(runCtx, chromedp.Evaluate(js, &raw,
		func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
			return ep.WithAwaitPromise(true)
		}))
	if err != nil {
		p.noteError(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return recording.NewError(recording.CodeEvalTimeout, "evaluation timed out", err)
		}
		return recording.NewError(recording.CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return recording.NewError(recording.CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = recording.CodeEvalFailure
		}
		return recording.NewError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return recording.NewError(recording.CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// Screenshot captures the page, clipped to the given viewport rect when
// non-nil, as PNG bytes.
func (p *Page) Screenshot(ctx context.Context, clip *recording.Rect) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(p.ctx, p.evalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var buf []byte
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := cdppage.CaptureScreenshot().
			WithFormat(cdppage.CaptureScreenshotFormatPng)
		if clip != nil && clip.Width > 0 && clip.Height > 0 {
			params = params.WithClip(&cdppage.Viewport{
				X:      clip.X,
				Y:      clip.Y,
				Width:  clip.Width,
				Height: clip.Height,
				Scale:  1,
			})
		}
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		p.noteError(err)
		return nil, err
	}
	return buf, nil
}

// Viewport reports the page's current inner dimensions.
func (p *Page) Viewport(ctx context.Context) (recording.Size, error) {
	var size recording.Size
	js := WrapJS(`return JSON.stringify({ok:true,data:{width: window.innerWidth, height: window.innerHeight}});`)
	if err := p.Eval(ctx, js, &size); err != nil {
		return recording.Size{}, err
	}
	return size, nil
}

// Closed reports whether the page has been closed or its tab lost.
func (p *Page) Closed() bool {
	return p.closed.Load() || p.ctx.Err() != nil
}

func (p *Page) noteError(err error) {
	if IsPageGone(err) {
		p.closed.Store(true)
	}
}

func (p *Page) close() {
	if p.closed.Swap(true) {
		return
	}
	p.cancel()
}
