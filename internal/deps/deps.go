// Package deps probes the external binaries the engine shells out to.
package deps

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/dgnsrekt/flowcapture/internal/browser"
)

// LookPathFunc resolves a binary name, swappable in tests.
type LookPathFunc func(name string) (string, error)

// VersionFunc runs a binary's version query, swappable in tests.
type VersionFunc func(ctx context.Context, path string, args ...string) (string, error)

// Dependency reports one external tool's availability.
type Dependency struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report is the full dependency check result.
type Report struct {
	Ready        bool         `json:"ready"`
	Dependencies []Dependency `json:"dependencies"`
}

// Checker probes for ffmpeg and a controllable browser.
type Checker struct {
	LookPath LookPathFunc
	Version  VersionFunc
}

// NewChecker creates a Checker using the real toolchain.
func NewChecker() *Checker {
	return &Checker{
		LookPath: exec.LookPath,
		Version:  runVersion,
	}
}

func runVersion(ctx context.Context, path string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, args...).Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// Check probes every required dependency. Ready is true only when all of
// them resolve.
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{Ready: true}

	ffmpeg := c.probe(ctx, "ffmpeg", []string{"ffmpeg"}, "-version")
	report.Dependencies = append(report.Dependencies, ffmpeg)

	chrome := c.probe(ctx, "browser", browser.Candidates(), "--version")
	report.Dependencies = append(report.Dependencies, chrome)

	for _, d := range report.Dependencies {
		if !d.Installed {
			report.Ready = false
		}
	}
	return report
}

// probe tries each candidate binary name in order and reports the first
// that resolves.
func (c *Checker) probe(ctx context.Context, name string, candidates []string, versionArg string) Dependency {
	dep := Dependency{Name: name}
	var lastErr error
	for _, candidate := range candidates {
		path, err := c.LookPath(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		dep.Installed = true
		dep.Path = path
		if version, err := c.Version(ctx, path, versionArg); err == nil {
			dep.Version = version
		}
		return dep
	}
	if lastErr != nil {
		dep.Error = lastErr.Error()
	}
	return dep
}
