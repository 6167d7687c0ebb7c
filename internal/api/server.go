// Package api exposes the desk over HTTP for the plot frontend and for
// scripted control. Handlers validate and translate; all desk semantics live
// behind the Service interface.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/trade_desk/internal/browsersession"
	"github.com/dgnsrekt/trade_desk/internal/desk"
	"github.com/dgnsrekt/trade_desk/internal/fault"
	"github.com/dgnsrekt/trade_desk/internal/normalize"
	"github.com/dgnsrekt/trade_desk/internal/orderentry"
	"github.com/dgnsrekt/trade_desk/internal/snapshot"
	"github.com/dgnsrekt/trade_desk/internal/stream"
)

// Service is the desk surface the HTTP layer needs.
type Service interface {
	Trackers(ctx context.Context) ([]desk.TrackerView, error)
	LoadSymbol(ctx context.Context, id, symbol string) error
	SubmitBuy(ctx context.Context, id, amount string) error
	SubmitSell(ctx context.Context, id, amount string) error
	Reset(ctx context.Context, id string, confirmed bool) error
	OverrideEnable(ctx context.Context) error
	ConfirmTrade()
	SeriesFor(id string) (normalize.Series, bool)
	BasketSeries() []normalize.Series
	CheckPage(ctx context.Context) (orderentry.PageCheckReport, error)
	SessionState() browsersession.State
	RestartSession(ctx context.Context) error
	Status() string
	Events() *stream.Broker
	Evidence() ([]snapshot.Meta, error)
	EvidenceImage(id string) ([]byte, string, error)
}

type trackerIDInput struct {
	TrackerID string `path:"tracker_id"`
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Trade Desk API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/api/v1/events", stream.SSEHandler(svc.Events()))

	registerTrackerHandlers(api, svc)
	registerSessionHandlers(api, svc)
	registerMiscHandlers(api, svc)
	registerEvidenceHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *fault.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case fault.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case fault.CodeDataUnavailable:
			return huma.Error404NotFound(coded.Message)
		case fault.CodeTradeLocked, fault.CodeState:
			return huma.Error409Conflict(coded.Message)
		case fault.CodeStepTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case fault.CodeElementMissing, fault.CodeTicketLayout:
			return huma.Error502BadGateway(coded.Message)
		case fault.CodeSessionLost, fault.CodeLaunchError:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
