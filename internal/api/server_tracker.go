package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/trade_desk/internal/desk"
	"github.com/dgnsrekt/trade_desk/internal/normalize"
)

func registerTrackerHandlers(api huma.API, svc Service) {
	type trackersOutput struct {
		Body struct {
			Trackers []desk.TrackerView `json:"trackers"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-trackers", Method: http.MethodGet, Path: "/api/v1/trackers", Summary: "List all tracker slots", Tags: []string{"Trackers"}},
		func(ctx context.Context, input *struct{}) (*trackersOutput, error) {
			views, err := svc.Trackers(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &trackersOutput{}
			out.Body.Trackers = views
			return out, nil
		})

	type seriesOutput struct {
		Body normalize.Series
	}
	huma.Register(api, huma.Operation{OperationID: "get-tracker-series", Method: http.MethodGet, Path: "/api/v1/trackers/{tracker_id}/series", Summary: "Get the latest plotted series for a slot", Tags: []string{"Trackers"}},
		func(ctx context.Context, input *trackerIDInput) (*seriesOutput, error) {
			series, ok := svc.SeriesFor(input.TrackerID)
			if !ok {
				return nil, huma.Error404NotFound("no series published for " + input.TrackerID)
			}
			out := &seriesOutput{}
			out.Body = series
			return out, nil
		})

	type loadSymbolInput struct {
		TrackerID string `path:"tracker_id"`
		Body      struct {
			Symbol string `json:"symbol" doc:"Ticker symbol to load into the slot"`
		}
	}
	type statusOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "load-symbol", Method: http.MethodPut, Path: "/api/v1/trackers/{tracker_id}/symbol", Summary: "Load a symbol into a slot", Tags: []string{"Trackers"}},
		func(ctx context.Context, input *loadSymbolInput) (*statusOutput, error) {
			if err := svc.LoadSymbol(ctx, input.TrackerID, input.Body.Symbol); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "loaded"
			return out, nil
		})

	type orderInput struct {
		TrackerID string `path:"tracker_id"`
		Body      struct {
			Amount string `json:"amount" doc:"Dollar amount for buys, share count for sells"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "submit-buy", Method: http.MethodPost, Path: "/api/v1/trackers/{tracker_id}/buy", Summary: "Dispatch a buy ticket for the slot's symbol", Tags: []string{"Trading"}},
		func(ctx context.Context, input *orderInput) (*statusOutput, error) {
			if err := svc.SubmitBuy(ctx, input.TrackerID, input.Body.Amount); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "dispatched"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "submit-sell", Method: http.MethodPost, Path: "/api/v1/trackers/{tracker_id}/sell", Summary: "Dispatch a sell ticket for the slot's symbol", Tags: []string{"Trading"}},
		func(ctx context.Context, input *orderInput) (*statusOutput, error) {
			if err := svc.SubmitSell(ctx, input.TrackerID, input.Body.Amount); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "dispatched"
			return out, nil
		})

	type resetInput struct {
		TrackerID string `path:"tracker_id"`
		Body      struct {
			Confirm bool `json:"confirm" doc:"Must be true; a reset discards the slot's position markers"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "reset-tracker", Method: http.MethodPost, Path: "/api/v1/trackers/{tracker_id}/reset", Summary: "Reset a slot's markers and pending amount", Tags: []string{"Trackers"}},
		func(ctx context.Context, input *resetInput) (*statusOutput, error) {
			if err := svc.Reset(ctx, input.TrackerID, input.Body.Confirm); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "reset"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "override-enable", Method: http.MethodPost, Path: "/api/v1/trackers/override-enable", Summary: "Force-release the trade lock and re-enable every slot", Tags: []string{"Trackers"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.OverrideEnable(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "enabled"
			return out, nil
		})

	type basketOutput struct {
		Body struct {
			Series []normalize.Series `json:"series"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-basket-series", Method: http.MethodGet, Path: "/api/v1/basket/series", Summary: "Get percent-mode series for the instrument basket", Tags: []string{"Trackers"}},
		func(ctx context.Context, input *struct{}) (*basketOutput, error) {
			out := &basketOutput{}
			out.Body.Series = svc.BasketSeries()
			return out, nil
		})
}
