// Package api exposes the recording engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/flowcapture/internal/deps"
	"github.com/dgnsrekt/flowcapture/internal/events"
	"github.com/dgnsrekt/flowcapture/internal/recording"
	"github.com/dgnsrekt/flowcapture/internal/session"
	"github.com/dgnsrekt/flowcapture/internal/store"
)

// Service is the engine surface the HTTP layer drives.
type Service interface {
	StartRecording(ctx context.Context, req recording.Request) (session.Session, error)
	StopRecording(ctx context.Context, id string) (session.Session, error)
	RecordingStatus(ctx context.Context, id string) (session.Session, error)
	ListSessions(ctx context.Context) ([]session.Session, error)
	RemoveSession(ctx context.Context, id string) error
	ListRecordings(ctx context.Context) ([]store.Entry, error)
	CheckDeps(ctx context.Context) (deps.Report, error)
}

// NewServer builds the HTTP handler. broker may be nil to disable the live
// event feed.
func NewServer(svc Service, broker *events.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Flow Capture API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if broker != nil {
		router.Get("/recording/{id}/events", func(w http.ResponseWriter, r *http.Request) {
			events.Handler(broker, chi.URLParam(r, "id"))(w, r)
		})
	}

	registerRecordingHandlers(api, svc)
	registerSystemHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *recording.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case recording.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case recording.CodeSessionNotFound:
			return huma.Error404NotFound(coded.Message)
		case recording.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case recording.CodeBrowserUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
