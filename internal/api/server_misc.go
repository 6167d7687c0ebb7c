package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type deskStatusOutput struct {
		Body struct {
			Message string `json:"message"`
			Session string `json:"session"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Get the last desk event message", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*deskStatusOutput, error) {
			out := &deskStatusOutput{}
			out.Body.Message = svc.Status()
			out.Body.Session = string(svc.SessionState())
			return out, nil
		})
}
