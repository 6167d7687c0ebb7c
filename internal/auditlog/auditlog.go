// Package auditlog is the append-only record of purchases, sales and
// automation executions. The file doubles as the symbol-restore mechanism
// across restarts via the TRACKED_TICKERS line written at shutdown.
package auditlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const trackedPrefix = "TRACKED_TICKERS:"

var priceRe = regexp.MustCompile(`\$([0-9,.]+)`)

// Log appends human-readable trade events to a per-session text file. Writes
// are serialized and synced to disk before returning, so a logged purchase is
// durable before the tracker transitions on it.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	path string
	now  func() time.Time
}

// Open creates a new session log file in dir, named after the session start
// instant, and writes the session header line.
func Open(dir string) (*Log, error) {
	return openAt(dir, time.Now)
}

func openAt(dir string, now func() time.Time) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("auditlog: mkdir %s: %w", dir, err)
	}
	start := now()
	path := filepath.Join(dir, start.Format("02Jan06_15.04.05")+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}

	l := &Log{f: f, path: path, now: now}
	if err := l.appendLine(fmt.Sprintf("Session started at %s", start.Format("2006-01-02 15:04:05"))); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Purchase appends a purchase-price line for the symbol.
func (l *Log) Purchase(symbol string, price float64) error {
	return l.appendStamped(fmt.Sprintf("Purchase Price for %s: $%.2f", symbol, price))
}

// Sale appends a sale-price line for the symbol.
func (l *Log) Sale(symbol string, price float64) error {
	return l.appendStamped(fmt.Sprintf("Sale Price for %s: $%.2f", symbol, price))
}

// Executed appends an order-entry execution record.
func (l *Log) Executed(action, symbol, quantity, orderType, settlement string) error {
	return l.appendStamped(fmt.Sprintf("Executed %s: %s, Qty: %s, %s, %s",
		capitalize(action), symbol, quantity, orderType, settlement))
}

// WriteTrackedTickers persists the current symbol list for restore at the
// next startup. Called once at shutdown.
func (l *Log) WriteTrackedTickers(symbols []string) error {
	return l.appendLine("\n" + trackedPrefix + strings.Join(symbols, ","))
}

// LastPurchasePrice scans the session log newest-first for the most recent
// purchase line for symbol. Used only to populate highlight state at cold
// start; in-memory state stays authoritative afterwards.
func (l *Log) LastPurchasePrice(symbol string) (float64, bool) {
	l.mu.Lock()
	path := l.path
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	needle := "Purchase Price for " + symbol
	var last string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), needle) {
			last = scanner.Text()
		}
	}
	if last == "" {
		return 0, false
	}
	m := priceRe.FindStringSubmatch(last)
	if len(m) < 2 {
		return 0, false
	}
	price, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

// LoadOpenPositions scans log files under dir newest-first and returns the
// last purchase price per symbol for positions with no later sale. Symbols
// whose most recent event is a sale are considered flat and omitted.
func LoadOpenPositions(dir string) map[string]float64 {
	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil || len(paths) == 0 {
		return nil
	}
	sort.Slice(paths, func(i, j int) bool {
		si, ierr := os.Stat(paths[i])
		sj, jerr := os.Stat(paths[j])
		if ierr != nil || jerr != nil {
			return paths[i] > paths[j]
		}
		return si.ModTime().After(sj.ModTime())
	})

	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		open := map[string]float64{}
		sawEvent := false
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if sym, price, ok := parseEvent(line, "Purchase Price for "); ok {
				open[sym] = price
				sawEvent = true
				continue
			}
			if sym, _, ok := parseEvent(line, "Sale Price for "); ok {
				delete(open, sym)
				sawEvent = true
			}
		}
		f.Close()
		if sawEvent {
			return open
		}
	}
	return nil
}

func parseEvent(line, marker string) (symbol string, price float64, ok bool) {
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", 0, false
	}
	rest := line[idx+len(marker):]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return "", 0, false
	}
	symbol = strings.TrimSpace(rest[:colon])
	m := priceRe.FindStringSubmatch(rest[colon:])
	if len(m) < 2 {
		return "", 0, false
	}
	price, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return "", 0, false
	}
	return symbol, price, true
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func (l *Log) appendStamped(msg string) error {
	return l.appendLine(fmt.Sprintf("[%s] %s", l.now().Format("15:04:05"), msg))
}

// appendLine writes one line and fsyncs so the entry is durable before any
// state transition that depends on it completes.
func (l *Log) appendLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("auditlog: write: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("auditlog: sync: %w", err)
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// LoadLatestTrackedTickers scans the data dir's log files newest-first and
// returns the symbol list from the first TRACKED_TICKERS line found.
func LoadLatestTrackedTickers(dir string) []string {
	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil || len(paths) == 0 {
		return nil
	}

	type fileInfo struct {
		path  string
		mtime time.Time
	}
	infos := make([]fileInfo, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			continue
		}
		infos = append(infos, fileInfo{path: p, mtime: st.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].mtime.After(infos[j].mtime) })

	for _, info := range infos {
		f, err := os.Open(info.path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if strings.HasPrefix(line, trackedPrefix) {
				f.Close()
				raw := strings.Split(strings.TrimPrefix(line, trackedPrefix), ",")
				symbols := make([]string, 0, len(raw))
				for _, s := range raw {
					symbols = append(symbols, strings.TrimSpace(s))
				}
				return symbols
			}
		}
		f.Close()
	}
	return nil
}
