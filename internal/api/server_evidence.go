package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/trade_desk/internal/snapshot"
)

func registerEvidenceHandlers(api huma.API, svc Service) {
	type evidenceListOutput struct {
		Body struct {
			Snapshots []snapshot.Meta `json:"snapshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-evidence", Method: http.MethodGet, Path: "/api/v1/evidence", Summary: "List failure screenshots, newest first", Tags: []string{"Evidence"}},
		func(ctx context.Context, input *struct{}) (*evidenceListOutput, error) {
			metas, err := svc.Evidence()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &evidenceListOutput{}
			out.Body.Snapshots = metas
			if out.Body.Snapshots == nil {
				out.Body.Snapshots = []snapshot.Meta{}
			}
			return out, nil
		})

	type evidenceImageOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{OperationID: "get-evidence-image", Method: http.MethodGet, Path: "/api/v1/evidence/{snapshot_id}/image", Summary: "Fetch one failure screenshot", Tags: []string{"Evidence"}},
		func(ctx context.Context, input *struct {
			SnapshotID string `path:"snapshot_id"`
		}) (*evidenceImageOutput, error) {
			img, format, err := svc.EvidenceImage(input.SnapshotID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &evidenceImageOutput{ContentType: "image/" + format, Body: img}, nil
		})
}
