package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/flowcapture/internal/recording"
	"github.com/dgnsrekt/flowcapture/internal/session"
)

func registerRecordingHandlers(api huma.API, svc Service) {
	type startInput struct {
		Body recording.Request
	}
	type startOutput struct {
		Body struct {
			SessionID string    `json:"sessionId"`
			Status    string    `json:"status"`
			StartTime time.Time `json:"startTime"`
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "start-recording",
		Method:      http.MethodPost,
		Path:        "/recording/start",
		Summary:     "Start a recording session",
		Tags:        []string{"Recording"},
	}, func(ctx context.Context, input *startInput) (*startOutput, error) {
		s, err := svc.StartRecording(ctx, input.Body)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &startOutput{}
		out.Body.SessionID = s.ID
		out.Body.Status = s.State
		out.Body.StartTime = s.StartedAt
		return out, nil
	})

	type idInput struct {
		ID string `path:"id"`
	}
	type stopOutput struct {
		Body struct {
			Message    string `json:"message"`
			SessionID  string `json:"sessionId"`
			Status     string `json:"status"`
			OutputPath string `json:"outputPath,omitempty"`
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "stop-recording",
		Method:      http.MethodPost,
		Path:        "/recording/{id}/stop",
		Summary:     "Request an early stop for a recording session",
		Tags:        []string{"Recording"},
	}, func(ctx context.Context, input *idInput) (*stopOutput, error) {
		s, err := svc.StopRecording(ctx, input.ID)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &stopOutput{}
		out.Body.SessionID = s.ID
		out.Body.Status = s.State
		if session.IsTerminal(s.State) {
			out.Body.Message = "recording already finished"
		} else {
			out.Body.Message = "stop requested"
		}
		if s.Result != nil {
			out.Body.OutputPath = s.Result.OutputPath
		}
		return out, nil
	})

	type statusOutput struct {
		Body statusBody
	}

	huma.Register(api, huma.Operation{
		OperationID: "recording-status",
		Method:      http.MethodGet,
		Path:        "/recording/{id}/status",
		Summary:     "Get a recording session snapshot",
		Tags:        []string{"Recording"},
	}, func(ctx context.Context, input *idInput) (*statusOutput, error) {
		s, err := svc.RecordingStatus(ctx, input.ID)
		if err != nil {
			return nil, mapErr(err)
		}
		return &statusOutput{Body: toStatusBody(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-session",
		Method:      http.MethodDelete,
		Path:        "/recording/{id}",
		Summary:     "Remove a finished recording session from the registry",
		Tags:        []string{"Recording"},
	}, func(ctx context.Context, input *idInput) (*struct{}, error) {
		if err := svc.RemoveSession(ctx, input.ID); err != nil {
			return nil, mapErr(err)
		}
		return nil, nil
	})

	type sessionsOutput struct {
		Body struct {
			Sessions []statusBody `json:"sessions"`
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List all recording sessions",
		Tags:        []string{"Recording"},
	}, func(ctx context.Context, input *struct{}) (*sessionsOutput, error) {
		sessions, err := svc.ListSessions(ctx)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &sessionsOutput{}
		out.Body.Sessions = make([]statusBody, 0, len(sessions))
		for _, s := range sessions {
			out.Body.Sessions = append(out.Body.Sessions, toStatusBody(s))
		}
		return out, nil
	})
}

// statusBody is the wire shape of one session snapshot.
type statusBody struct {
	SessionID  string            `json:"sessionId"`
	Status     string            `json:"status"`
	URL        string            `json:"url"`
	Mode       string            `json:"mode"`
	FrameCount int               `json:"frameCount,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Duration   float64           `json:"duration,omitempty" doc:"Elapsed seconds, present once finished"`
	Result     *recording.Result `json:"result,omitempty"`
}

func toStatusBody(s session.Session) statusBody {
	b := statusBody{
		SessionID:  s.ID,
		Status:     s.State,
		URL:        s.Request.URL,
		Mode:       s.Request.Mode,
		FrameCount: s.FrameCount,
		StartedAt:  s.StartedAt,
		UpdatedAt:  s.UpdatedAt,
		Result:     s.Result,
	}
	if s.Result != nil {
		b.Duration = s.Result.ElapsedSeconds
	}
	return b
}
