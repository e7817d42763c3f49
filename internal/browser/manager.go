package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/flowcapture/internal/recording"
)

// ManagerConfig holds shared-session settings.
type ManagerConfig struct {
	CDPAddress      string
	CDPPort         int
	ProfileDir      string
	LaunchAttempts  int
	NavigateTimeout time.Duration
	EvalTimeout     time.Duration
	Headless        bool
}

// Manager owns the shared browser process and hands out pages against it.
// The process is reference counted but deliberately survives the count
// reaching zero: cold starts dominate per-recording overhead, so teardown
// only happens through an explicit Shutdown call.
type Manager struct {
	cfg ManagerConfig

	mu          sync.Mutex
	launcher    *Launcher
	allocCtx    context.Context
	allocCancel context.CancelFunc
	refs        int
	shutdown    bool
}

// NewManager creates a Manager. No browser is started until first Acquire.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.LaunchAttempts < 1 {
		cfg.LaunchAttempts = 1
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = 5 * time.Second
	}
	return &Manager{
		cfg: cfg,
		launcher: NewLauncher(LaunchConfig{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
			Headless:   cfg.Headless,
		}),
	}
}

// Acquire returns a fresh page in the shared browser context, creating or
// transparently re-creating the browser process when needed.
func (m *Manager) Acquire(ctx context.Context) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, recording.NewError(recording.CodeBrowserUnavailable, "session manager is shut down", nil)
	}
	if err := m.ensureSharedLocked(ctx); err != nil {
		return nil, err
	}

	page, err := m.newPageLocked(ctx)
	if err != nil {
		// The shared process may have died between the readiness probe and
		// tab creation; rebuild once before giving up.
		slog.Warn("page creation failed, rebuilding shared browser", "error", err)
		m.teardownSharedLocked()
		if rebuildErr := m.ensureSharedLocked(ctx); rebuildErr != nil {
			return nil, rebuildErr
		}
		page, err = m.newPageLocked(ctx)
		if err != nil {
			return nil, recording.NewError(recording.CodeBrowserUnavailable, "open page in shared browser", err)
		}
	}

	m.refs++
	slog.Debug("page acquired", "refs", m.refs)
	return page, nil
}

// Release closes only the caller's page and decrements the reference count.
// The shared process is never torn down here, even at zero.
func (m *Manager) Release(p *Page) {
	if p == nil {
		return
	}
	p.close()

	m.mu.Lock()
	if m.refs > 0 {
		m.refs--
	}
	refs := m.refs
	m.mu.Unlock()
	slog.Debug("page released", "refs", refs)
}

// Refs reports the number of outstanding pages.
func (m *Manager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// Shutdown tears down the shared browser process. The only sanctioned way
// to stop it; hosts call this once on exit or interrupt.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
	m.teardownSharedLocked()
}

func (m *Manager) newPageLocked(ctx context.Context) (*Page, error) {
	// The remote allocator ties the tab's lifetime to the context of its
	// first Run, so the materializing Run must see tabCtx itself. The
	// readiness bound is enforced around the call, never as a timeout
	// context wrapped into it.
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)
	err := materializeTab(ctx, func() error { return chromedp.Run(tabCtx) }, 15*time.Second)
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("materialize tab: %w", err)
	}

	return &Page{
		ctx:             tabCtx,
		cancel:          tabCancel,
		navigateTimeout: m.cfg.NavigateTimeout,
		evalTimeout:     m.cfg.EvalTimeout,
	}, nil
}

// materializeTab waits for run to finish within bound without canceling
// anything itself; a late run result is left to the caller's tab cancel.
func materializeTab(ctx context.Context, run func() error, bound time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- run() }()

	timer := time.NewTimer(bound)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-timer.C:
		return fmt.Errorf("timed out after %s", bound)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureSharedLocked creates the shared browser process and allocator when
// absent, and detects mid-session disconnection lazily by probing the CDP
// endpoint before reuse.
func (m *Manager) ensureSharedLocked(ctx context.Context) error {
	if m.allocCtx != nil && m.connected() {
		return nil
	}
	m.teardownSharedLocked()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.LaunchAttempts; attempt++ {
		if attempt > 1 {
			m.launcher.CleanProfileLocks()
		}
		if err := m.launcher.Launch(ctx); err != nil {
			lastErr = err
			slog.Warn("browser launch attempt failed",
				"attempt", attempt, "max", m.cfg.LaunchAttempts, "error", err)
			continue
		}

		cdpURL := fmt.Sprintf("http://%s:%d", m.cfg.CDPAddress, m.cfg.CDPPort)
		m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)
		slog.Info("shared browser ready", "cdp_url", cdpURL, "attempt", attempt)
		return nil
	}

	return recording.NewError(recording.CodeBrowserUnavailable,
		fmt.Sprintf("browser failed to start after %d attempts", m.cfg.LaunchAttempts), lastErr)
}

func (m *Manager) teardownSharedLocked() {
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
		m.allocCtx = nil
	}
	if m.launcher != nil && m.launcher.Running() {
		m.launcher.Stop()
	}
}

// connected probes the CDP /json/version endpoint.
func (m *Manager) connected() bool {
	url := fmt.Sprintf("http://%s:%d/json/version", m.cfg.CDPAddress, m.cfg.CDPPort)
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
