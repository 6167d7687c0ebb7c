package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/trade_desk/internal/marketdata"
)

func TestRecorderWritesDatedJSONL(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, 16, 10, true)

	snap := marketdata.Snapshot{
		Symbol:     "AAPL",
		Resolution: marketdata.ResolutionMinute,
		FetchedAt:  time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC),
		Bars: []marketdata.Bar{
			{Time: time.Date(2025, 6, 3, 14, 29, 0, 0, time.UTC), Close: 101.5},
		},
	}
	if err := r.Record(snap); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(dir, date, "snapshots.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("archive file missing: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatalf("archive file empty")
	}
	var rec snapshotRecord
	if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
		t.Fatalf("bad archive line: %v", err)
	}
	if rec.Symbol != "AAPL" || rec.BarCount != 1 || rec.LastClose != 101.5 {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.Bars) != 1 {
		t.Fatalf("full bars not archived: %+v", rec)
	}
}

func TestRecorderSummaryMode(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, 16, 10, false)

	snap := marketdata.Snapshot{
		Symbol:     "TSLA",
		Resolution: marketdata.ResolutionFiveMinute,
		FetchedAt:  time.Now().UTC(),
		Bars:       []marketdata.Bar{{Time: time.Now().UTC(), Close: 250}},
	}
	if err := r.Record(snap); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date, "snapshots.jsonl"))
	if err != nil {
		t.Fatalf("archive file missing: %v", err)
	}
	var rec snapshotRecord
	if err := json.Unmarshal(data[:len(data)-1], &rec); err != nil {
		t.Fatalf("bad archive line: %v", err)
	}
	if rec.Bars != nil {
		t.Fatalf("bars archived in summary mode: %+v", rec)
	}
	if rec.BarCount != 1 {
		t.Fatalf("BarCount = %d; want 1", rec.BarCount)
	}
}

func TestRecordAfterCloseFails(t *testing.T) {
	r := NewRecorder(t.TempDir(), 1, 10, false)
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Record(marketdata.Snapshot{Symbol: "AAPL"}); err == nil {
		t.Fatalf("Record() = nil after Close")
	}
}
