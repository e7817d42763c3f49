// Package encoder bridges to the external ffmpeg binary for turning frame
// sequences and stream captures into final video containers.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dgnsrekt/flowcapture/internal/capture"
	"github.com/dgnsrekt/flowcapture/internal/recording"
)

// stderrTailLimit bounds how much encoder output is carried in errors.
const stderrTailLimit = 2048

// Options control one encode invocation.
type Options struct {
	FrameRate int
	Format    string // mp4 or webm
	Quality   string // high, medium, low
	Width     int    // 0 means keep source dimensions
	Height    int
}

// FFmpeg is the encoder bridge. The zero value uses the binary from PATH.
type FFmpeg struct {
	// Binary overrides the executable name, primarily for tests.
	Binary string
}

func (f *FFmpeg) binary() string {
	if f.Binary != "" {
		return f.Binary
	}
	return "ffmpeg"
}

// Available reports whether the encoder binary can be found.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.binary())
	return err == nil
}

// Probe returns the installed encoder version line, or an error when the
// binary is absent.
func (f *FFmpeg) Probe(ctx context.Context) (string, error) {
	path, err := exec.LookPath(f.binary())
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found: %w", err)
	}
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version: %w", err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// EncodeFrames turns the ordinal PNG sequence in framesDir into a video at
// outputPath. The frame material is left untouched on failure so a retry
// or manual encode remains possible.
func (f *FFmpeg) EncodeFrames(ctx context.Context, framesDir, outputPath string, opts Options) error {
	if _, err := exec.LookPath(f.binary()); err != nil {
		return recording.NewError(recording.CodeEncodingFailed, "ffmpeg not installed", err)
	}
	firstFrame := filepath.Join(framesDir, capture.FrameFilename(0))
	if _, err := os.Stat(firstFrame); err != nil {
		return recording.NewError(recording.CodeEncodingFailed, "no frames to encode", err)
	}

	args := buildFrameArgs(framesDir, outputPath, opts)
	return f.run(ctx, args, outputPath)
}

// Convert re-encodes an existing container, typically the stream capture's
// webm into the requested mp4.
func (f *FFmpeg) Convert(ctx context.Context, inputPath, outputPath string, opts Options) error {
	if _, err := exec.LookPath(f.binary()); err != nil {
		return recording.NewError(recording.CodeEncodingFailed, "ffmpeg not installed", err)
	}
	if _, err := os.Stat(inputPath); err != nil {
		return recording.NewError(recording.CodeEncodingFailed, "conversion input missing", err)
	}

	args := buildConvertArgs(inputPath, outputPath, opts)
	return f.run(ctx, args, outputPath)
}

func (f *FFmpeg) run(ctx context.Context, args []string, outputPath string) error {
	slog.Debug("invoking encoder", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, f.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return recording.NewError(recording.CodeEncodingFailed,
			fmt.Sprintf("encoder exited: %s", stderrTail(stderr.Bytes())), err)
	}
	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		return recording.NewError(recording.CodeEncodingFailed,
			fmt.Sprintf("encoder produced no output: %s", stderrTail(stderr.Bytes())), err)
	}
	slog.Info("encode complete", "output", outputPath)
	return nil
}

// buildFrameArgs assembles the image-sequence invocation. Kept pure so the
// argument shape is testable without a binary.
func buildFrameArgs(framesDir, outputPath string, opts Options) []string {
	frameRate := opts.FrameRate
	if frameRate <= 0 {
		frameRate = 10
	}
	args := []string{
		"-y",
		"-framerate", fmt.Sprintf("%d", frameRate),
		"-i", filepath.Join(framesDir, capture.FramePattern),
	}
	args = append(args, filterArgs(opts)...)
	args = append(args, codecArgs(opts)...)
	args = append(args, outputPath)
	return args
}

// buildConvertArgs assembles the container-conversion invocation.
func buildConvertArgs(inputPath, outputPath string, opts Options) []string {
	args := []string{"-y", "-i", inputPath}
	args = append(args, filterArgs(opts)...)
	args = append(args, codecArgs(opts)...)
	args = append(args, outputPath)
	return args
}

// filterArgs scales to an explicit target when given, and always pads to
// even dimensions because yuv420p rejects odd sizes.
func filterArgs(opts Options) []string {
	filters := []string{}
	if opts.Width > 0 && opts.Height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height))
	}
	filters = append(filters, "pad=ceil(iw/2)*2:ceil(ih/2)*2")
	return []string{"-vf", strings.Join(filters, ",")}
}

func codecArgs(opts Options) []string {
	if opts.Format == recording.FormatWebM {
		crf := "32"
		switch opts.Quality {
		case recording.QualityHigh:
			crf = "24"
		case recording.QualityLow:
			crf = "40"
		}
		return []string{
			"-c:v", "libvpx-vp9",
			"-crf", crf,
			"-b:v", "0",
		}
	}

	crf, preset := "23", "medium"
	switch opts.Quality {
	case recording.QualityHigh:
		crf, preset = "18", "slow"
	case recording.QualityLow:
		crf, preset = "28", "fast"
	}
	return []string{
		"-c:v", "libx264",
		"-crf", crf,
		"-preset", preset,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
	}
}

func stderrTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrTailLimit {
		s = s[len(s)-stderrTailLimit:]
	}
	return s
}
