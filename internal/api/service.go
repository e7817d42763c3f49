package api

import (
	"context"

	"github.com/dgnsrekt/flowcapture/internal/deps"
	"github.com/dgnsrekt/flowcapture/internal/recording"
	"github.com/dgnsrekt/flowcapture/internal/session"
	"github.com/dgnsrekt/flowcapture/internal/store"
)

// Engine implements Service over the session registry, the recordings
// store, and the dependency checker.
type Engine struct {
	registry *session.Registry
	store    *store.Store
	checker  *deps.Checker
}

// NewEngine wires the concrete engine service.
func NewEngine(registry *session.Registry, st *store.Store, checker *deps.Checker) *Engine {
	return &Engine{registry: registry, store: st, checker: checker}
}

func (e *Engine) StartRecording(ctx context.Context, req recording.Request) (session.Session, error) {
	id, err := e.registry.Create(req)
	if err != nil {
		return session.Session{}, err
	}
	return e.registry.Status(id)
}

func (e *Engine) StopRecording(ctx context.Context, id string) (session.Session, error) {
	return e.registry.Stop(ctx, id)
}

func (e *Engine) RecordingStatus(ctx context.Context, id string) (session.Session, error) {
	return e.registry.Status(id)
}

func (e *Engine) ListSessions(ctx context.Context) ([]session.Session, error) {
	return e.registry.List(), nil
}

func (e *Engine) RemoveSession(ctx context.Context, id string) error {
	return e.registry.Remove(id)
}

func (e *Engine) ListRecordings(ctx context.Context) ([]store.Entry, error) {
	return e.store.List()
}

func (e *Engine) CheckDeps(ctx context.Context) (deps.Report, error) {
	return e.checker.Check(ctx), nil
}
