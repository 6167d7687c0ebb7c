package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/trade_desk/internal/api"
	"github.com/dgnsrekt/trade_desk/internal/auditlog"
	"github.com/dgnsrekt/trade_desk/internal/browser"
	"github.com/dgnsrekt/trade_desk/internal/browsersession"
	"github.com/dgnsrekt/trade_desk/internal/config"
	"github.com/dgnsrekt/trade_desk/internal/desk"
	"github.com/dgnsrekt/trade_desk/internal/marketdata"
	"github.com/dgnsrekt/trade_desk/internal/metrics"
	"github.com/dgnsrekt/trade_desk/internal/netutil"
	"github.com/dgnsrekt/trade_desk/internal/normalize"
	"github.com/dgnsrekt/trade_desk/internal/notify"
	"github.com/dgnsrekt/trade_desk/internal/orderentry"
	"github.com/dgnsrekt/trade_desk/internal/session"
	"github.com/dgnsrekt/trade_desk/internal/snapshot"
	"github.com/dgnsrekt/trade_desk/internal/storage"
	"github.com/dgnsrekt/trade_desk/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}
	log := slog.Default()

	slog.Info("trade_desk config loaded",
		"bind_addr", cfg.BindAddr,
		"provider", cfg.Provider,
		"order_url", cfg.OrderURL,
		"refresh_spec", cfg.RefreshSpec,
		"slots", cfg.Slots,
		"basket", cfg.BasketSymbols,
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	var provider marketdata.Provider
	switch cfg.Provider {
	case "alpaca":
		provider = marketdata.NewAlpacaProvider(cfg.AlpacaKey, cfg.AlpacaSecret, cfg.AlpacaBaseURL)
	default:
		provider = marketdata.NewYahooProvider()
	}

	auditDir := filepath.Join(cfg.DataDir, "audit")
	audit, err := auditlog.Open(auditDir)
	if err != nil {
		slog.Error("failed to open audit log", "dir", auditDir, "error", err)
		os.Exit(1)
	}

	clock := session.NewClock()
	cache := marketdata.NewCache()
	engine := normalize.NewEngine(cache, clock.Location())

	launcher := browser.NewLauncher(browser.Config{
		CDPAddress: cfg.CDPAddress,
		CDPPort:    cfg.CDPPort,
		StartURL:   cfg.OrderURL,
		ProfileDir: cfg.ProfileDir,
		LogFileDir: filepath.Join(cfg.DataDir, "browser"),
	})

	sessionCtrl := browsersession.NewController(browsersession.Config{
		OrderURL:     cfg.OrderURL,
		LoginTimeout: time.Duration(cfg.LoginTimeoutSec) * time.Second,
	}, launcher, cfg.CDPURL(), log)

	evidenceDir := filepath.Join(cfg.DataDir, "evidence")
	evidence, err := snapshot.NewStore(evidenceDir)
	if err != nil {
		slog.Error("failed to open evidence store", "dir", evidenceDir, "error", err)
		os.Exit(1)
	}

	driver := orderentry.NewCDPDriver(sessionCtrl, cfg.OrderURL)
	ack := orderentry.NewChanAcknowledger()
	automation := orderentry.NewAutomation(orderentry.Config{
		StepTimeout: time.Duration(cfg.StepTimeoutSec) * time.Second,
		BuyMode:     cfg.BuyMode,
		SellMode:    cfg.SellMode,
	}, driver, audit, ack, evidence, log)

	var recorder *storage.Recorder
	if cfg.ArchiveEnabled {
		recorder = storage.NewRecorder(filepath.Join(cfg.DataDir, "snapshots"), cfg.BufferSize, cfg.MaxFileSizeMB, cfg.ArchiveFullBars)
	}

	svc := desk.New(desk.Config{
		Slots:         cfg.Slots,
		BasketSymbols: cfg.BasketSymbols,
		RefreshSpec:   cfg.RefreshSpec,
		StaggerStep:   time.Duration(cfg.StaggerMS) * time.Millisecond,
		Lookback:      time.Duration(cfg.LookbackHours) * time.Hour,
	}, provider, cache, clock, engine, audit, sessionCtrl, automation, driver, ack, recorder, evidence, log)
	svc.Notifier = notify.NewNotifier(cfg.NtfyEndpoint, nil)

	sessionCtrl.OnStateChange = func(state browsersession.State) {
		if state == browsersession.StateRestarting {
			metrics.SessionRestarts.Inc()
		}
		svc.Events().PublishJSON(stream.TypeSession, map[string]string{"state": string(state)})
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	go svc.Run(runCtx)

	// The desk serves charts even with no browser; trading just stays
	// unavailable until a session comes up.
	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Duration(cfg.LoginTimeoutSec+30)*time.Second)
	if err := sessionCtrl.Start(startCtx); err != nil {
		slog.Warn("browser session not started, continuing without trading", "error", err)
	}
	cancelStart()

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 2*time.Minute)
	svc.RestoreSymbols(restoreCtx, auditlog.LoadLatestTrackedTickers(auditDir), auditlog.LoadOpenPositions(auditDir))
	cancelRestore()

	h := api.NewServer(svc)
	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("trade_desk listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("trade_desk server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("trade_desk shutdown failed", "error", err)
	}

	// Symbol persistence gets its own budget; a slow HTTP drain above must
	// not eat the time the tracked-ticker write depends on.
	symCtx, cancelSym := context.WithTimeout(context.Background(), 5*time.Second)
	symbols, err := svc.Symbols(symCtx)
	cancelSym()
	if err != nil {
		slog.Warn("could not read tracked symbols for persistence", "error", err)
	}
	svc.Shutdown(symbols)
	cancelRun()
	if err := audit.Close(); err != nil {
		slog.Warn("audit log close failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
