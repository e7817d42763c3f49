package recording

import (
	"fmt"
	"time"
)

const (
	CodeValidation         = "VALIDATION"
	CodeBrowserUnavailable = "BROWSER_UNAVAILABLE"
	CodeNavigationFailed   = "NAVIGATION_FAILED"
	CodeCanvasNotFound     = "CANVAS_NOT_FOUND"
	CodeCaptureFailed      = "CAPTURE_FAILED"
	CodeEncodingFailed     = "ENCODING_FAILED"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeEvalFailure        = "EVAL_FAILURE"
	CodeEvalTimeout        = "EVAL_TIMEOUT"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError with an optional cause.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// Capture modes.
const (
	ModeContinuous = "continuous"
	ModeSampled    = "sampled"
)

// Stop policies.
const (
	StopTimer     = "timer"
	StopManual    = "manual"
	StopHeuristic = "heuristic-auto-detect"
)

// Output formats.
const (
	FormatMP4  = "mp4"
	FormatWebM = "webm"
)

// Quality presets for the external encoder.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// Request describes one recording to perform.
type Request struct {
	URL           string            `json:"url"`
	Mode          string            `json:"mode,omitempty"`
	StopPolicy    string            `json:"stopPolicy,omitempty"`
	Duration      float64           `json:"duration,omitempty" doc:"Seconds, required for timer stop policy"`
	FrameRate     int               `json:"frameRate,omitempty" doc:"Frames per second, sampled mode only"`
	Width         int               `json:"width,omitempty" doc:"Explicit target width; 0 means derive from the detected surface"`
	Height        int               `json:"height,omitempty"`
	Format        string            `json:"format,omitempty"`
	Quality       string            `json:"quality,omitempty"`
	WaitForCanvas bool              `json:"waitForCanvas,omitempty"`
	Scaling       map[string]string `json:"scaling,omitempty" doc:"Display-scaling query parameters appended to the target URL"`
}

// Validate normalizes defaults and rejects inconsistent requests.
func (r *Request) Validate() error {
	if r.URL == "" {
		return NewError(CodeValidation, "url is required", nil)
	}
	switch r.Mode {
	case ModeContinuous, ModeSampled:
	case "":
		r.Mode = ModeContinuous
	default:
		return NewError(CodeValidation, "mode must be continuous or sampled", nil)
	}
	switch r.StopPolicy {
	case StopTimer, StopManual, StopHeuristic:
	case "":
		r.StopPolicy = StopTimer
	default:
		return NewError(CodeValidation, "unknown stop policy: "+r.StopPolicy, nil)
	}
	if r.StopPolicy == StopTimer && r.Duration <= 0 {
		return NewError(CodeValidation, "duration is required for timer stop policy", nil)
	}
	if r.FrameRate <= 0 {
		r.FrameRate = 10
	}
	if (r.Width == 0) != (r.Height == 0) {
		return NewError(CodeValidation, "width and height must be given together", nil)
	}
	switch r.Format {
	case FormatMP4, FormatWebM:
	case "":
		r.Format = FormatMP4
	default:
		return NewError(CodeValidation, "format must be mp4 or webm", nil)
	}
	switch r.Quality {
	case QualityHigh, QualityMedium, QualityLow:
	case "":
		r.Quality = QualityMedium
	default:
		return NewError(CodeValidation, "quality must be high, medium or low", nil)
	}
	return nil
}

// Rect is an element bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Size is a pixel dimension pair.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CanvasInfo describes the detected render surface. Captured once per
// recording start; re-detected only after a viewport or UI-hiding change.
type CanvasInfo struct {
	Detected      bool `json:"detected"`
	Bounds        Rect `json:"bounds"`
	IntrinsicSize Size `json:"intrinsicSize"`
}

// Result is the single result contract shared by both capture strategies.
type Result struct {
	Success            bool          `json:"success"`
	OutputPath         string        `json:"outputPath,omitempty"`
	Elapsed            time.Duration `json:"-"`
	ElapsedSeconds     float64       `json:"elapsed"`
	SampleCount        int           `json:"sampleCount,omitempty"`
	AchievedResolution Size          `json:"achievedResolution"`
	Error              string        `json:"error,omitempty"`
}

// Failure builds a failed Result from an error.
func Failure(err error, elapsed time.Duration) Result {
	return Result{
		Success:        false,
		Elapsed:        elapsed,
		ElapsedSeconds: elapsed.Seconds(),
		Error:          err.Error(),
	}
}
