package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/trade_desk/internal/orderentry"
)

func registerSessionHandlers(api huma.API, svc Service) {
	type sessionOutput struct {
		Body struct {
			State string `json:"state"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/session", Summary: "Get the browser session state", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*sessionOutput, error) {
			out := &sessionOutput{}
			out.Body.State = string(svc.SessionState())
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "restart-session", Method: http.MethodPost, Path: "/api/v1/session/restart", Summary: "Force a full browser session restart", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*sessionOutput, error) {
			if err := svc.RestartSession(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &sessionOutput{}
			out.Body.State = string(svc.SessionState())
			return out, nil
		})

	type pageCheckOutput struct {
		Body orderentry.PageCheckReport
	}
	huma.Register(api, huma.Operation{OperationID: "check-page", Method: http.MethodGet, Path: "/api/v1/page/check", Summary: "Probe the order page for every element the ticket flow needs", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*pageCheckOutput, error) {
			report, err := svc.CheckPage(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &pageCheckOutput{}
			out.Body = report
			return out, nil
		})

	type confirmOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "confirm-trade", Method: http.MethodPost, Path: "/api/v1/trade/confirm", Summary: "Acknowledge the staged ticket after manual review", Tags: []string{"Trading"}},
		func(ctx context.Context, input *struct{}) (*confirmOutput, error) {
			svc.ConfirmTrade()
			out := &confirmOutput{}
			out.Body.Status = "confirmed"
			return out, nil
		})
}
