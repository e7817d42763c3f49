// Package canvas locates the render surface presenting the interactive
// prototype inside a loaded page.
package canvas

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/flowcapture/internal/browser"
	"github.com/dgnsrekt/flowcapture/internal/recording"
)

// Minimum size floor excluding decorative or invisible surfaces.
const (
	MinWidth  = 100
	MinHeight = 100
)

// Evaluator is the slice of a page the detector needs.
type Evaluator interface {
	Eval(ctx context.Context, js string, out any) error
}

// Surface is one candidate render surface reported by the page, in
// document order.
type Surface struct {
	Bounds        recording.Rect `json:"bounds"`
	IntrinsicSize recording.Size `json:"intrinsicSize"`
}

var enumerateJS = browser.WrapJS(`var out = [];
var els = document.querySelectorAll("canvas");
for (var i = 0; i < els.length; i++) {
var r = els[i].getBoundingClientRect();
out.push({
bounds: {x: r.left, y: r.top, width: r.width, height: r.height},
intrinsicSize: {width: els[i].width, height: els[i].height}
});
}
return JSON.stringify({ok:true,data:{surfaces:out}});`)

// Detect enumerates surface-bearing elements and selects the primary one.
// Non-detection is a soft condition: the returned CanvasInfo has
// Detected=false and err is nil.
func Detect(ctx context.Context, page Evaluator) (recording.CanvasInfo, error) {
	var data struct {
		Surfaces []Surface `json:"surfaces"`
	}
	if err := page.Eval(ctx, enumerateJS, &data); err != nil {
		return recording.CanvasInfo{}, err
	}
	info := Select(data.Surfaces)
	if !info.Detected {
		slog.Debug("no qualifying render surface found", "candidates", len(data.Surfaces))
	}
	return info, nil
}

// Select picks the candidate with the largest visible area at or above the
// minimum size floor. Ties are broken by first-seen (document) order.
func Select(surfaces []Surface) recording.CanvasInfo {
	var best *Surface
	var bestArea float64
	for i := range surfaces {
		s := &surfaces[i]
		if s.Bounds.Width < MinWidth || s.Bounds.Height < MinHeight {
			continue
		}
		area := s.Bounds.Width * s.Bounds.Height
		if best == nil || area > bestArea {
			best = s
			bestArea = area
		}
	}
	if best == nil {
		return recording.CanvasInfo{Detected: false}
	}
	return recording.CanvasInfo{
		Detected:      true,
		Bounds:        best.Bounds,
		IntrinsicSize: best.IntrinsicSize,
	}
}

// WaitFor polls Detect until a surface qualifies or the timeout elapses.
// Returns the last (non-detected) info on timeout without an error.
func WaitFor(ctx context.Context, page Evaluator, timeout time.Duration) (recording.CanvasInfo, error) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		info, err := Detect(ctx, page)
		if err != nil {
			return recording.CanvasInfo{}, err
		}
		if info.Detected {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		case <-deadline:
			return info, nil
		case <-ticker.C:
		}
	}
}

var hideUIJS = browser.WrapJS(`var style = document.getElementById("__fc_hide_ui");
if (!style) {
style = document.createElement("style");
style.id = "__fc_hide_ui";
style.textContent = [
"[class*=toolbar i] { display: none !important; }",
"[class*=sidebar i] { display: none !important; }",
"[class*=footer i] { display: none !important; }",
"[class*=banner i] { display: none !important; }",
"::-webkit-scrollbar { display: none !important; }",
"body { overflow: hidden !important; }"
].join("\n");
document.head.appendChild(style);
}
return JSON.stringify({ok:true,data:{hidden:true}});`)

// HideUI injects a style sheet hiding overlay chrome around the prototype.
// Hiding can change which surface is largest, so callers must re-detect
// after this step.
func HideUI(ctx context.Context, page Evaluator) error {
	return page.Eval(ctx, hideUIJS, nil)
}
