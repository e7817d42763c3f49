package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/flowcapture/internal/events"
	"github.com/dgnsrekt/flowcapture/internal/recording"
)

type fakeJob struct {
	mu      sync.Mutex
	stopped bool
	result  recording.Result
	block   chan struct{} // Run waits on this when non-nil
	frames  int
}

func (j *fakeJob) Run(ctx context.Context) recording.Result {
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

func (j *fakeJob) Stop(ctx context.Context) {
	j.mu.Lock()
	j.stopped = true
	j.mu.Unlock()
	if j.block != nil {
		select {
		case <-j.block:
		default:
			close(j.block)
		}
	}
}

func (j *fakeJob) FrameCount() int { return j.frames }

func (j *fakeJob) wasStopped() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopped
}

type fakeFactory struct {
	job *fakeJob
}

func (f *fakeFactory) NewJob(req recording.Request) Job { return f.job }

func validRequest() recording.Request {
	return recording.Request{
		URL:        "https://example.com/proto",
		StopPolicy: recording.StopTimer,
		Duration:   1,
	}
}

func waitForState(t *testing.T, r *Registry, id, want string) Session {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s, err := r.Status(id)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if s.State == want {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	s, _ := r.Status(id)
	t.Fatalf("session %s never reached %q, last state %q", id, want, s.State)
	return Session{}
}

func TestCreateRunsToCompletion(t *testing.T) {
	job := &fakeJob{result: recording.Result{Success: true, OutputPath: "/r/recording.mp4", SampleCount: 42}}
	r := NewRegistry(&fakeFactory{job: job}, nil)

	id, err := r.Create(validRequest())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	s := waitForState(t, r, id, StateCompleted)
	if s.Result == nil || s.Result.OutputPath != "/r/recording.mp4" {
		t.Fatalf("completed session result = %+v", s.Result)
	}
	if s.FrameCount != 42 {
		t.Fatalf("FrameCount = %d, want 42", s.FrameCount)
	}
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	r := NewRegistry(&fakeFactory{job: &fakeJob{}}, nil)

	_, err := r.Create(recording.Request{})
	if err == nil {
		t.Fatal("Create() accepted a request without a URL")
	}
}

func TestFailedRunReachesFailed(t *testing.T) {
	job := &fakeJob{result: recording.Result{Success: false, Error: "NAVIGATION_FAILED: boom"}}
	r := NewRegistry(&fakeFactory{job: job}, nil)

	id, err := r.Create(validRequest())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	s := waitForState(t, r, id, StateFailed)
	if s.Result == nil || s.Result.Error == "" {
		t.Fatalf("failed session carries no error: %+v", s.Result)
	}
}

func TestStopUnknownSession(t *testing.T) {
	r := NewRegistry(&fakeFactory{job: &fakeJob{}}, nil)

	_, err := r.Stop(context.Background(), "no-such-id")
	var coded *recording.CodedError
	if err == nil {
		t.Fatal("Stop() on unknown id returned nil error")
	}
	if !errors.As(err, &coded) || coded.Code != recording.CodeSessionNotFound {
		t.Fatalf("Stop() error = %v, want %s", err, recording.CodeSessionNotFound)
	}
}

func TestStopRequestsJobStop(t *testing.T) {
	job := &fakeJob{
		result: recording.Result{Success: true},
		block:  make(chan struct{}),
	}
	r := NewRegistry(&fakeFactory{job: job}, nil)

	id, err := r.Create(validRequest())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	s, err := r.Stop(context.Background(), id)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.State != StateStopping {
		t.Fatalf("Stop() state = %q, want %q", s.State, StateStopping)
	}
	if !job.wasStopped() {
		t.Fatal("Stop() did not reach the job")
	}

	waitForState(t, r, id, StateCompleted)
}

func TestStopIsIdempotentOnTerminal(t *testing.T) {
	job := &fakeJob{result: recording.Result{Success: true}}
	r := NewRegistry(&fakeFactory{job: job}, nil)

	id, err := r.Create(validRequest())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	waitForState(t, r, id, StateCompleted)

	first, err := r.Stop(context.Background(), id)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	second, err := r.Stop(context.Background(), id)
	if err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if first.State != StateCompleted || second.State != StateCompleted {
		t.Fatalf("Stop() on terminal session changed state: %q then %q", first.State, second.State)
	}
}

func TestRemoveRejectsActiveSession(t *testing.T) {
	job := &fakeJob{
		result: recording.Result{Success: true},
		block:  make(chan struct{}),
	}
	r := NewRegistry(&fakeFactory{job: job}, nil)

	id, err := r.Create(validRequest())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := r.Remove(id); err == nil {
		t.Fatal("Remove() evicted an active session")
	}

	close(job.block)
	waitForState(t, r, id, StateCompleted)

	if err := r.Remove(id); err != nil {
		t.Fatalf("Remove() on terminal session error = %v", err)
	}
	if _, err := r.Status(id); err == nil {
		t.Fatal("Status() still finds a removed session")
	}
}

func TestEventsPublishedOnTransitions(t *testing.T) {
	broker := events.NewBroker()
	subID, ch := broker.Subscribe()
	defer broker.Unsubscribe(subID)

	job := &fakeJob{result: recording.Result{Success: true}}
	r := NewRegistry(&fakeFactory{job: job}, broker)

	id, err := r.Create(validRequest())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	waitForState(t, r, id, StateCompleted)

	states := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !states[StateCompleted] {
		select {
		case evt := <-ch:
			if evt.SessionID != id {
				t.Fatalf("event for unexpected session %q", evt.SessionID)
			}
			states[evt.State] = true
		case <-timeout:
			t.Fatalf("never saw a completed event, got states %v", states)
		}
	}
	if !states[StatePreparing] {
		t.Fatalf("never saw a preparing event, got states %v", states)
	}
}
