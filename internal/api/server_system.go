package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/flowcapture/internal/deps"
	"github.com/dgnsrekt/flowcapture/internal/store"
)

func registerSystemHandlers(api huma.API, svc Service) {
	type recordingsOutput struct {
		Body struct {
			Recordings []store.Entry `json:"recordings"`
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-recordings",
		Method:      http.MethodGet,
		Path:        "/recordings",
		Summary:     "List recording directories on disk",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*recordingsOutput, error) {
		entries, err := svc.ListRecordings(ctx)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &recordingsOutput{}
		out.Body.Recordings = entries
		return out, nil
	})

	type depsOutput struct {
		Body deps.Report
	}

	huma.Register(api, huma.Operation{
		OperationID: "check-deps",
		Method:      http.MethodGet,
		Path:        "/system/deps",
		Summary:     "Check external tool availability",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*depsOutput, error) {
		report, err := svc.CheckDeps(ctx)
		if err != nil {
			return nil, mapErr(err)
		}
		return &depsOutput{Body: report}, nil
	})
}
