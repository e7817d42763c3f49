package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

var frameNameRe = regexp.MustCompile(`^frame_(\d{6})\.png$`)

// FillGaps scans dir for the ordinal sequence [0, N) and fills any missing
// ordinal with a copy of its nearest existing neighbor, preferring the
// earlier one. The external encoder reads frames by consecutive pattern and
// silently truncates at the first hole, so this runs before every encode.
func FillGaps(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read frames directory: %w", err)
	}

	present := map[int]bool{}
	maxOrdinal := -1
	for _, e := range entries {
		m := frameNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		present[n] = true
		if n > maxOrdinal {
			maxOrdinal = n
		}
	}
	if maxOrdinal < 0 {
		return 0, nil
	}

	filled := 0
	for i := 0; i <= maxOrdinal; i++ {
		if present[i] {
			continue
		}
		src := nearestNeighbor(present, i, maxOrdinal)
		if src < 0 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, FrameFilename(src)))
		if err != nil {
			return filled, fmt.Errorf("read neighbor frame %d: %w", src, err)
		}
		if err := os.WriteFile(filepath.Join(dir, FrameFilename(i)), data, 0o644); err != nil {
			return filled, fmt.Errorf("fill frame %d: %w", i, err)
		}
		present[i] = true
		filled++
	}

	if filled > 0 {
		slog.Info("filled frame gaps", "dir", dir, "filled", filled, "total", maxOrdinal+1)
	}
	return filled, nil
}

// nearestNeighbor finds the closest present ordinal to i, scanning backward
// first then forward at each distance.
func nearestNeighbor(present map[int]bool, i, max int) int {
	for d := 1; d <= max; d++ {
		if j := i - d; j >= 0 && present[j] {
			return j
		}
		if j := i + d; j <= max && present[j] {
			return j
		}
	}
	return -1
}
