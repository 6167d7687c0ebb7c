//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestSessionState(t *testing.T) {
	resp := env.GET(t, "/api/v1/session")
	requireStatus(t, resp, http.StatusOK)
	result := decodeJSON[struct {
		State string `json:"state"`
	}](t, resp)
	switch result.State {
	case "STOPPED", "STARTING", "RUNNING", "CRASHED", "RESTARTING":
	default:
		t.Fatalf("unknown session state %q", result.State)
	}
}

func TestPageCheck(t *testing.T) {
	resp := env.GET(t, "/api/v1/page/check")
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("no browser session; skipping page check")
	}
	requireStatus(t, resp, http.StatusOK)
	report := decodeJSON[struct {
		Items []struct {
			Name    string `json:"name"`
			Present bool   `json:"present"`
		} `json:"items"`
		AllOK bool `json:"all_ok"`
	}](t, resp)
	if len(report.Items) == 0 {
		t.Fatal("page check returned no items")
	}
}
