// Package capture implements the two competing capture strategies behind
// one contract: discrete frame sampling and continuous stream capture.
package capture

import (
	"context"
	"fmt"
	"time"
)

// Sampler/capturer states.
const (
	StateIdle      = "idle"
	StateCapturing = "capturing"
	StateStopped   = "stopped"
)

// StopInfo normalizes the outcome of either strategy.
type StopInfo struct {
	FrameCount int    // sampled mode
	Data       []byte // continuous mode: assembled container bytes
	MimeType   string // continuous mode
}

// Strategy is the common contract both capture pipelines implement.
// Start fails fast on setup problems, Run blocks until a stop condition
// fires, and Stop is idempotent and callable from any goroutine.
type Strategy interface {
	Start(ctx context.Context) error
	Run(ctx context.Context) error
	Stop(ctx context.Context) (StopInfo, error)
}

// FrameFilename returns the zero-padded name for ordinal i.
func FrameFilename(i int) string {
	return fmt.Sprintf("frame_%06d.png", i)
}

// FramePattern is the printf-style pattern handed to the external encoder.
const FramePattern = "frame_%06d.png"

func intervalFor(frameRate int) time.Duration {
	if frameRate <= 0 {
		frameRate = 10
	}
	return time.Second / time.Duration(frameRate)
}
