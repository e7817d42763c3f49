package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/flowcapture/internal/deps"
	"github.com/dgnsrekt/flowcapture/internal/recording"
	"github.com/dgnsrekt/flowcapture/internal/session"
	"github.com/dgnsrekt/flowcapture/internal/store"
)

type fakeService struct {
	sessions map[string]session.Session
}

func newFakeService() *fakeService {
	return &fakeService{sessions: map[string]session.Session{}}
}

func (f *fakeService) StartRecording(ctx context.Context, req recording.Request) (session.Session, error) {
	if err := req.Validate(); err != nil {
		return session.Session{}, err
	}
	s := session.Session{
		ID:        "11111111-2222-3333-4444-555555555555",
		State:     session.StatePreparing,
		Request:   req,
		StartedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeService) StopRecording(ctx context.Context, id string) (session.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return session.Session{}, recording.NewError(recording.CodeSessionNotFound, "unknown session: "+id, nil)
	}
	s.State = session.StateStopping
	return s, nil
}

func (f *fakeService) RecordingStatus(ctx context.Context, id string) (session.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return session.Session{}, recording.NewError(recording.CodeSessionNotFound, "unknown session: "+id, nil)
	}
	return s, nil
}

func (f *fakeService) ListSessions(ctx context.Context) ([]session.Session, error) {
	out := make([]session.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeService) RemoveSession(ctx context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return recording.NewError(recording.CodeSessionNotFound, "unknown session: "+id, nil)
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeService) ListRecordings(ctx context.Context) ([]store.Entry, error) {
	return []store.Entry{{Name: "proto-100", HasVideo: true, VideoFile: "recording.mp4"}}, nil
}

func (f *fakeService) CheckDeps(ctx context.Context) (deps.Report, error) {
	return deps.Report{Ready: true, Dependencies: []deps.Dependency{
		{Name: "ffmpeg", Installed: true, Path: "/usr/bin/ffmpeg"},
	}}, nil
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartRecordingEndpoint(t *testing.T) {
	h := NewServer(newFakeService(), nil)

	rec := doJSON(t, h, http.MethodPost, "/recording/start",
		`{"url":"https://example.com/proto","stopPolicy":"timer","duration":5}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		SessionID string `json:"sessionId"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SessionID == "" || body.Status != session.StatePreparing {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestStartRecordingRejectsBadRequest(t *testing.T) {
	h := NewServer(newFakeService(), nil)

	rec := doJSON(t, h, http.MethodPost, "/recording/start",
		`{"url":"","stopPolicy":"timer"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusUnknownSessionIs404(t *testing.T) {
	h := NewServer(newFakeService(), nil)

	rec := doJSON(t, h, http.MethodGet, "/recording/nope/status", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body: %s", rec.Code, rec.Body.String())
	}
}

func TestStopAfterStartTransitions(t *testing.T) {
	svc := newFakeService()
	h := NewServer(svc, nil)

	start := doJSON(t, h, http.MethodPost, "/recording/start",
		`{"url":"https://example.com/proto","stopPolicy":"manual"}`)
	if start.Code != http.StatusOK {
		t.Fatalf("start status = %d", start.Code)
	}
	var started struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(start.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}

	stop := doJSON(t, h, http.MethodPost, "/recording/"+started.SessionID+"/stop", "")
	if stop.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body: %s", stop.Code, stop.Body.String())
	}
	var stopped struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(stop.Body.Bytes(), &stopped); err != nil {
		t.Fatalf("decode stop: %v", err)
	}
	if stopped.Status != session.StateStopping || stopped.Message == "" {
		t.Fatalf("unexpected stop body: %+v", stopped)
	}
}

func TestListRecordingsEndpoint(t *testing.T) {
	h := NewServer(newFakeService(), nil)

	rec := doJSON(t, h, http.MethodGet, "/recordings", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Recordings []store.Entry `json:"recordings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Recordings) != 1 || !body.Recordings[0].HasVideo {
		t.Fatalf("unexpected recordings: %+v", body.Recordings)
	}
}

func TestDepsEndpoint(t *testing.T) {
	h := NewServer(newFakeService(), nil)

	rec := doJSON(t, h, http.MethodGet, "/system/deps", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report deps.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.Ready {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRequestsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	h := NewServer(newFakeService(), nil)
	doJSON(t, h, http.MethodGet, "/recordings", "")

	out := buf.String()
	if !strings.Contains(out, "request served") {
		t.Fatalf("log output missing request line: %q", out)
	}
	if !strings.Contains(out, "path=/recordings") || !strings.Contains(out, "status=200") {
		t.Fatalf("log output missing request fields: %q", out)
	}
}

func TestDocsServed(t *testing.T) {
	h := NewServer(newFakeService(), nil)

	rec := doJSON(t, h, http.MethodGet, "/docs", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "elements-api") {
		t.Fatal("docs page missing API viewer")
	}
}
