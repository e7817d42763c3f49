// Package store manages the on-disk layout of finished and in-progress
// recordings under a single recordings root.
package store

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/flowcapture/internal/recording"
)

// FramesDirName is the per-recording subdirectory holding sampled frames.
const FramesDirName = "frames"

var slugCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

// Entry describes one recording directory as listed to clients.
type Entry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	HasVideo  bool      `json:"hasVideo"`
	HasFrames bool      `json:"hasFrames"`
	VideoFile string    `json:"videoFile,omitempty"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store hands out per-recording directories and lists what exists.
type Store struct {
	root string
	mu   sync.Mutex
}

// New creates a Store rooted at dir, ensuring it exists.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recordings root: mkdir %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Root reports the recordings root directory.
func (s *Store) Root() string { return s.root }

// Allocate creates a fresh recording directory named from the target URL's
// slug and the current time in milliseconds, and returns its path together
// with the frames subdirectory path (not yet created).
func (s *Store) Allocate(targetURL string) (dir, framesDir string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("%s-%d", Slug(targetURL), time.Now().UnixMilli())
	dir = filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("recordings: mkdir %s: %w", dir, err)
	}
	return dir, filepath.Join(dir, FramesDirName), nil
}

// VideoPath returns the canonical output file path inside a recording dir.
func VideoPath(dir, format string) string {
	return filepath.Join(dir, "recording."+format)
}

// Slug derives a filesystem-safe name fragment from a URL. Falls back to
// "recording" when nothing usable remains.
func Slug(raw string) string {
	s := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		s = u.Host + u.Path
	}
	s = strings.ToLower(s)
	s = slugCleanRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 48 {
		s = s[:48]
		s = strings.Trim(s, "-")
	}
	if s == "" {
		return "recording"
	}
	return s
}

// List enumerates recording directories, newest first, flagging whether
// each holds a finished video and/or a frame sequence.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("recordings: read root: %w", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, d.Name())
		e := Entry{Name: d.Name(), Path: dir}
		if info, err := d.Info(); err == nil {
			e.CreatedAt = info.ModTime()
		}

		for _, format := range []string{recording.FormatMP4, recording.FormatWebM} {
			p := VideoPath(dir, format)
			if fi, err := os.Stat(p); err == nil && fi.Size() > 0 {
				e.HasVideo = true
				e.VideoFile = filepath.Base(p)
				e.SizeBytes = fi.Size()
				break
			}
		}

		if frames, err := os.ReadDir(filepath.Join(dir, FramesDirName)); err == nil && len(frames) > 0 {
			e.HasFrames = true
		}

		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}
