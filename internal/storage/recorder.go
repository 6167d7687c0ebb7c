// Package storage archives refreshed market snapshots as JSON lines, one
// file per UTC day. The archive is a flight recorder for after-the-fact
// debugging of chart data, never read on the hot path.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/trade_desk/internal/marketdata"
)

// snapshotRecord is one archived fetch result.
type snapshotRecord struct {
	Symbol     string                `json:"symbol"`
	Resolution marketdata.Resolution `json:"resolution"`
	FetchedAt  time.Time             `json:"fetched_at"`
	BarCount   int                   `json:"bar_count"`
	LastClose  float64               `json:"last_close"`
	Bars       []marketdata.Bar      `json:"bars,omitempty"`
}

// Recorder writes snapshots asynchronously. Record never blocks the refresh
// tick: when the buffer is full the snapshot is dropped with a warning.
type Recorder struct {
	baseDir   string
	maxSizeMB int
	fullBars  bool

	writeCh chan marketdata.Snapshot
	done    chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// NewRecorder starts a recorder rooted at baseDir. fullBars controls
// whether whole bar series are archived or just per-fetch summaries.
func NewRecorder(baseDir string, bufferSize, maxSizeMB int, fullBars bool) *Recorder {
	r := &Recorder{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		fullBars:  fullBars,
		writeCh:   make(chan marketdata.Snapshot, bufferSize),
		done:      make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r
}

// Record queues a snapshot for archival.
func (r *Recorder) Record(snap marketdata.Snapshot) error {
	select {
	case r.writeCh <- snap:
		return nil
	case <-r.done:
		return fmt.Errorf("recorder is closed")
	default:
		slog.Warn("snapshot archive buffer full, dropping record", "symbol", snap.Symbol)
		return fmt.Errorf("buffer full")
	}
}

// Close shuts the recorder down and flushes what it can within 5s.
func (r *Recorder) Close() error {
	close(r.done)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap := <-r.writeCh:
			r.writeSnapshot(snap)
		case <-timeout:
			slog.Warn("recorder close timeout, some records may be lost")
			goto done
		default:
			goto done
		}
	}

done:
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.logger != nil {
		return r.logger.Close()
	}
	return nil
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	for {
		select {
		case snap := <-r.writeCh:
			r.writeSnapshot(snap)
		case <-r.done:
			return
		}
	}
}

func (r *Recorder) writeSnapshot(snap marketdata.Snapshot) {
	rec := snapshotRecord{
		Symbol:     snap.Symbol,
		Resolution: snap.Resolution,
		FetchedAt:  snap.FetchedAt,
		BarCount:   len(snap.Bars),
		LastClose:  snap.LastClose(),
	}
	if r.fullBars {
		rec.Bars = snap.Bars
	}

	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("failed to marshal snapshot record", "error", err, "symbol", snap.Symbol)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	currentDate := time.Now().UTC().Format("2006-01-02")
	if currentDate != r.currentDate || r.logger == nil {
		r.rotateForDate(currentDate)
	}
	if r.logger == nil {
		return
	}

	if _, err := r.logger.Write(append(data, '\n')); err != nil {
		slog.Error("failed to write snapshot record", "error", err, "symbol", snap.Symbol)
	}
}

func (r *Recorder) rotateForDate(date string) {
	if r.logger != nil {
		r.logger.Close()
	}

	dir := filepath.Join(r.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("failed to create archive directory", "error", err, "dir", dir)
		r.logger = nil
		return
	}

	r.logger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "snapshots.jsonl"),
		MaxSize:    r.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}
	r.currentDate = date
	slog.Info("opened snapshot archive", "file", r.logger.Filename)
}
