package deps

import (
	"context"
	"errors"
	"testing"
)

func fakeChecker(installed map[string]string, version string) *Checker {
	return &Checker{
		LookPath: func(name string) (string, error) {
			if path, ok := installed[name]; ok {
				return path, nil
			}
			return "", errors.New("executable file not found in $PATH")
		},
		Version: func(ctx context.Context, path string, args ...string) (string, error) {
			if version == "" {
				return "", errors.New("version probe failed")
			}
			return version, nil
		},
	}
}

func TestCheckAllPresent(t *testing.T) {
	c := fakeChecker(map[string]string{
		"ffmpeg":   "/usr/bin/ffmpeg",
		"chromium": "/usr/bin/chromium",
	}, "ffmpeg version 6.1")

	report := c.Check(context.Background())

	if !report.Ready {
		t.Fatalf("Check() not ready: %+v", report)
	}
	if len(report.Dependencies) != 2 {
		t.Fatalf("Check() returned %d deps, want 2", len(report.Dependencies))
	}
	for _, d := range report.Dependencies {
		if !d.Installed || d.Path == "" || d.Version == "" {
			t.Fatalf("dependency %q incomplete: %+v", d.Name, d)
		}
	}
}

func TestCheckMissingFFmpeg(t *testing.T) {
	c := fakeChecker(map[string]string{
		"google-chrome": "/usr/bin/google-chrome",
	}, "Chromium 120")

	report := c.Check(context.Background())

	if report.Ready {
		t.Fatal("Check() ready despite missing ffmpeg")
	}
	for _, d := range report.Dependencies {
		if d.Name == "ffmpeg" {
			if d.Installed {
				t.Fatal("ffmpeg reported installed")
			}
			if d.Error == "" {
				t.Fatal("missing ffmpeg carries no error detail")
			}
		}
	}
}

func TestCheckBrowserFallsThroughCandidates(t *testing.T) {
	// Only the last candidate name resolves.
	c := fakeChecker(map[string]string{
		"ffmpeg":        "/usr/bin/ffmpeg",
		"google-chrome": "/opt/google/chrome",
	}, "v1")

	report := c.Check(context.Background())

	if !report.Ready {
		t.Fatalf("Check() not ready: %+v", report)
	}
	for _, d := range report.Dependencies {
		if d.Name == "browser" && d.Path != "/opt/google/chrome" {
			t.Fatalf("browser path = %q, want /opt/google/chrome", d.Path)
		}
	}
}

func TestCheckVersionFailureStillInstalled(t *testing.T) {
	c := fakeChecker(map[string]string{
		"ffmpeg":   "/usr/bin/ffmpeg",
		"chromium": "/usr/bin/chromium",
	}, "")

	report := c.Check(context.Background())

	if !report.Ready {
		t.Fatal("Check() not ready; version probes must not gate readiness")
	}
	for _, d := range report.Dependencies {
		if d.Version != "" {
			t.Fatalf("dependency %q has version despite failing probe", d.Name)
		}
	}
}
