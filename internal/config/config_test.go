package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CDPAddress != "127.0.0.1" || cfg.CDPPort != 9222 {
		t.Fatalf("CDP defaults = %s:%d", cfg.CDPAddress, cfg.CDPPort)
	}
	if cfg.LaunchAttempts != 3 || cfg.NavigateAttempts != 3 {
		t.Fatalf("retry defaults = %d/%d, want 3/3", cfg.LaunchAttempts, cfg.NavigateAttempts)
	}
	if cfg.DefaultFrameRate != 10 {
		t.Fatalf("DefaultFrameRate = %d, want 10", cfg.DefaultFrameRate)
	}
	if cfg.CDPURL() != "http://127.0.0.1:9222" {
		t.Fatalf("CDPURL() = %q", cfg.CDPURL())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLOWCAPTURE_CDP_PORT", "9333")
	t.Setenv("FLOWCAPTURE_BIND_ADDR", "0.0.0.0:9000")
	t.Setenv("FLOWCAPTURE_BIND_CANDIDATES", "127.0.0.1:9001, 127.0.0.1:9002")
	t.Setenv("FLOWCAPTURE_LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CDPPort != 9333 {
		t.Fatalf("CDPPort = %d, want 9333", cfg.CDPPort)
	}
	if cfg.BindAddr != "0.0.0.0:9000" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if len(cfg.PortCandidates) != 2 || cfg.PortCandidates[1] != "127.0.0.1:9002" {
		t.Fatalf("PortCandidates = %v", cfg.PortCandidates)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want lowercased debug", cfg.LogLevel)
	}
}

func TestLoadClampsFloors(t *testing.T) {
	t.Setenv("FLOWCAPTURE_EVAL_TIMEOUT_MS", "50")
	t.Setenv("FLOWCAPTURE_LAUNCH_ATTEMPTS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EvalTimeoutMS != 1000 {
		t.Fatalf("EvalTimeoutMS = %d, want floor 1000", cfg.EvalTimeoutMS)
	}
	if cfg.LaunchAttempts != 1 {
		t.Fatalf("LaunchAttempts = %d, want floor 1", cfg.LaunchAttempts)
	}
}

func TestLoadIgnoresMalformedInts(t *testing.T) {
	t.Setenv("FLOWCAPTURE_CDP_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPPort != 9222 {
		t.Fatalf("CDPPort = %d, want default 9222", cfg.CDPPort)
	}
}
