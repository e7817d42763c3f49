package browser

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestMaterializeTabPassesResultThrough(t *testing.T) {
	wantErr := errors.New("tab refused")
	err := materializeTab(context.Background(), func() error { return wantErr }, time.Second)
	if !errors.Is(err, wantErr) {
		t.Fatalf("materializeTab() error = %v, want %v", err, wantErr)
	}

	if err := materializeTab(context.Background(), func() error { return nil }, time.Second); err != nil {
		t.Fatalf("materializeTab() error = %v on success", err)
	}
}

func TestMaterializeTabBoundsSlowRun(t *testing.T) {
	err := materializeTab(context.Background(), func() error {
		time.Sleep(2 * time.Second)
		return nil
	}, 50*time.Millisecond)
	if err == nil {
		t.Fatal("materializeTab() did not enforce the bound")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("materializeTab() error = %v, want timeout", err)
	}
}

func TestMaterializeTabHonorsCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := materializeTab(ctx, func() error {
		time.Sleep(2 * time.Second)
		return nil
	}, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("materializeTab() error = %v, want context.Canceled", err)
	}
}

// The bound expiring after a successful materialization must leave the tab
// untouched: the helper observes the run, it never cancels what the run
// built.
func TestMaterializeTabBoundDoesNotOutliveSuccess(t *testing.T) {
	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()

	var sawCancel atomic.Bool
	go func() {
		<-tabCtx.Done()
		sawCancel.Store(true)
	}()

	if err := materializeTab(context.Background(), func() error { return nil }, 30*time.Millisecond); err != nil {
		t.Fatalf("materializeTab() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if sawCancel.Load() {
		t.Fatal("tab context canceled after the readiness bound elapsed")
	}
}
