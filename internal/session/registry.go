// Package session tracks recordings by ID through their lifecycle and lets
// API callers start, observe, and stop them asynchronously.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/flowcapture/internal/events"
	"github.com/dgnsrekt/flowcapture/internal/recorder"
	"github.com/dgnsrekt/flowcapture/internal/recording"
)

// Session lifecycle states. Stopping is transient: it marks an external
// stop acknowledged while capture winds down.
const (
	StatePreparing  = "preparing"
	StateRecording  = "recording"
	StateStopping   = "stopping"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// IsTerminal reports whether state is an end state.
func IsTerminal(state string) bool {
	return state == StateCompleted || state == StateFailed
}

// Session is a point-in-time snapshot of one recording.
type Session struct {
	ID         string            `json:"id"`
	State      string            `json:"state"`
	Request    recording.Request `json:"request"`
	Result     *recording.Result `json:"result,omitempty"`
	FrameCount int               `json:"frameCount,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Job is the slice of a running recording the registry controls.
type Job interface {
	Run(ctx context.Context) recording.Result
	Stop(ctx context.Context)
	FrameCount() int
}

// JobFactory builds jobs from validated requests.
type JobFactory interface {
	NewJob(req recording.Request) Job
}

// RecorderFactory adapts the concrete recorder to JobFactory.
type RecorderFactory struct {
	Recorder *recorder.Recorder
}

func (f RecorderFactory) NewJob(req recording.Request) Job {
	return f.Recorder.NewJob(req)
}

type entry struct {
	snapshot Session
	job      Job
	cancel   context.CancelFunc
}

// Registry owns all sessions. Mutations go through the state machine;
// invalid transitions are dropped, and an externally requested stop takes
// precedence over the run goroutine's own finalization.
type Registry struct {
	factory JobFactory
	broker  *events.Broker

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates an empty registry publishing updates to broker,
// which may be nil.
func NewRegistry(factory JobFactory, broker *events.Broker) *Registry {
	return &Registry{
		factory:  factory,
		broker:   broker,
		sessions: make(map[string]*entry),
	}
}

// Create validates the request, registers a new session in the preparing
// state, and launches its recording goroutine. Returns the session ID
// immediately; progress is observed via Status or the event feed.
func (r *Registry) Create(req recording.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	job := r.factory.NewJob(req)

	now := time.Now().UTC()
	e := &entry{
		snapshot: Session{
			ID:        id,
			State:     StatePreparing,
			Request:   req,
			StartedAt: now,
			UpdatedAt: now,
		},
		job:    job,
		cancel: cancel,
	}

	r.mu.Lock()
	r.sessions[id] = e
	r.mu.Unlock()

	r.publish(e.snapshot)
	slog.Info("session created", "id", id, "url", req.URL, "mode", req.Mode)

	if rj, ok := job.(*recorder.Job); ok {
		rj.OnCapturing = func() { r.transition(id, StateRecording) }
		rj.OnProcessing = func() { r.transition(id, StateProcessing) }
	}

	go r.run(runCtx, id, job)
	return id, nil
}

func (r *Registry) run(ctx context.Context, id string, job Job) {
	progressDone := make(chan struct{})
	go r.reportProgress(ctx, id, job, progressDone)

	result := job.Run(ctx)
	close(progressDone)

	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if result.Success {
		e.snapshot.State = StateCompleted
	} else {
		e.snapshot.State = StateFailed
	}
	e.snapshot.Result = &result
	e.snapshot.FrameCount = result.SampleCount
	e.snapshot.UpdatedAt = time.Now().UTC()
	snapshot := e.snapshot
	r.mu.Unlock()

	r.publish(snapshot)
	slog.Info("session finished", "id", id, "state", snapshot.State)
}

// reportProgress publishes frame counts while capture is live.
func (r *Registry) reportProgress(ctx context.Context, id string, job Job, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		e, ok := r.sessions[id]
		if !ok {
			r.mu.Unlock()
			return
		}
		if e.snapshot.State != StateRecording && e.snapshot.State != StateStopping {
			r.mu.Unlock()
			continue
		}
		e.snapshot.FrameCount = job.FrameCount()
		snapshot := e.snapshot
		r.mu.Unlock()

		r.publish(snapshot)
	}
}

// transition moves a session to state unless it already reached a terminal
// or stopping state, so an external stop is never masked by the run
// goroutine's own phase changes.
func (r *Registry) transition(id, state string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || IsTerminal(e.snapshot.State) || e.snapshot.State == StateStopping {
		r.mu.Unlock()
		return
	}
	e.snapshot.State = state
	e.snapshot.UpdatedAt = time.Now().UTC()
	snapshot := e.snapshot
	r.mu.Unlock()

	r.publish(snapshot)
}

// Stop requests an early end for a session. Idempotent: stopping an
// already-terminal session returns its snapshot unchanged.
func (r *Registry) Stop(ctx context.Context, id string) (Session, error) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, recording.NewError(recording.CodeSessionNotFound, "unknown session: "+id, nil)
	}
	if IsTerminal(e.snapshot.State) || e.snapshot.State == StateStopping {
		snapshot := e.snapshot
		r.mu.Unlock()
		return snapshot, nil
	}
	e.snapshot.State = StateStopping
	e.snapshot.UpdatedAt = time.Now().UTC()
	snapshot := e.snapshot
	job := e.job
	r.mu.Unlock()

	r.publish(snapshot)
	slog.Info("session stop requested", "id", id)
	job.Stop(ctx)
	return snapshot, nil
}

// Status returns a session snapshot with a live frame count.
func (r *Registry) Status(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return Session{}, recording.NewError(recording.CodeSessionNotFound, "unknown session: "+id, nil)
	}
	snapshot := e.snapshot
	if !IsTerminal(snapshot.State) {
		snapshot.FrameCount = e.job.FrameCount()
	}
	return snapshot, nil
}

// List returns snapshots of all sessions, unordered.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.snapshot)
	}
	return out
}

// Remove evicts an acknowledged terminal session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return recording.NewError(recording.CodeSessionNotFound, "unknown session: "+id, nil)
	}
	if !IsTerminal(e.snapshot.State) {
		return recording.NewError(recording.CodeValidation, "session is still active", nil)
	}
	e.cancel()
	delete(r.sessions, id)
	return nil
}

// Shutdown stops all active sessions and cancels their goroutines.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	active := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		if !IsTerminal(e.snapshot.State) {
			active = append(active, e)
		}
	}
	r.mu.Unlock()

	for _, e := range active {
		e.job.Stop(ctx)
		e.cancel()
	}
}

func (r *Registry) publish(s Session) {
	if r.broker == nil {
		return
	}
	evt := events.Event{
		SessionID:  s.ID,
		State:      s.State,
		FrameCount: s.FrameCount,
		At:         s.UpdatedAt,
	}
	if s.Result != nil {
		evt.Error = s.Result.Error
	}
	r.broker.Publish(evt)
}
