package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vishtheendodoc/orderflow-new/config"
	"github.com/Vishtheendodoc/orderflow-new/internal/api"
	"github.com/Vishtheendodoc/orderflow-new/internal/app"
	"github.com/Vishtheendodoc/orderflow-new/internal/engine"
	"github.com/Vishtheendodoc/orderflow-new/internal/gateway"
	"github.com/Vishtheendodoc/orderflow-new/internal/instruments"
	"github.com/Vishtheendodoc/orderflow-new/internal/logger"
	"github.com/Vishtheendodoc/orderflow-new/internal/marketdata/dhan"
	"github.com/Vishtheendodoc/orderflow-new/internal/marketdata/synthetic"
	"github.com/Vishtheendodoc/orderflow-new/internal/metrics"
	"github.com/Vishtheendodoc/orderflow-new/internal/model"
	"github.com/Vishtheendodoc/orderflow-new/internal/oi"
	"github.com/Vishtheendodoc/orderflow-new/internal/reset"
	"github.com/Vishtheendodoc/orderflow-new/internal/snapshot"
	redisstore "github.com/Vishtheendodoc/orderflow-new/internal/store/redis"
)

func main() {
	cfg := config.Load()
	logger.Init("orderflow", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	state := app.NewState(app.Options{
		EngineConfig: engine.Config{
			CandleMs:       int64(cfg.CandleSeconds) * 1000,
			ImbalanceRatio: cfg.ImbalanceRatio,
			MaxCandles:     cfg.MaxCandlesPerSymbol,
			MaxLevels:      cfg.MaxLevelsPerCandle,
		},
		MaxEngines:      cfg.MaxEngines,
		BroadcastLimit:  cfg.BroadcastCandlesLimit,
		BroadcastMinGap: cfg.BroadcastMinInterval,
		GCIntervalTicks: cfg.GCIntervalTicks,
	})
	state.SetToken(cfg.DhanAccessToken)

	hub := gateway.NewHub(state)
	state.Broadcast = hub.Broadcast
	hub.OnBroadcast = m.BroadcastsTotal.Inc
	hub.OnViewerCount = func(n int) {
		m.Viewers.Set(float64(n))
		health.SetCounts(state.EngineCount(), n)
	}

	// Optional Redis mirror for out-of-process consumers.
	var pub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		p, err := redisstore.New(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[main] redis disabled: %v", err)
		} else {
			pub = p
			defer pub.Close()
		}
	}

	// Installed on every engine the state creates; must be set before the
	// first Subscribe call.
	state.OnCandleClose = func(symbol string, view model.CandleView) {
		m.CandlesClosed.Inc()
		if pub != nil {
			pub.PublishCandle(ctx, symbol, view)
		}
	}
	state.OnTick = func() {
		m.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
	}
	state.OnDroppedTick = m.DroppedTicks.Inc

	session := dhan.NewSession(dhan.SessionConfig{
		WSURL:    cfg.DhanWSURL,
		ClientID: cfg.DhanClientID,
	}, state)
	session.RunSynthetic = func(ctx context.Context) {
		health.SetSynthetic(true)
		synthetic.New(state).Run(ctx)
	}
	session.OnConnected = health.SetWSConnected
	session.OnReconnect = func() {
		m.WSReconnects.Inc()
		health.SetAuthBackoff(session.AuthBackoff())
	}
	session.OnFrameError = m.FrameErrors.Inc

	state.OnInstrumentsAdded = func(added []model.Instrument) {
		session.AddInstruments(added)
		m.Engines.Set(float64(state.EngineCount()))
		health.SetCounts(state.EngineCount(), hub.ViewerCount())
	}

	// Instrument master: feeds symbol search and, when enabled, the startup
	// auto-subscribe pass.
	var records []instruments.Record
	if cfg.StockListPath != "" {
		var err error
		records, err = instruments.Load(cfg.StockListPath)
		if err != nil {
			log.Printf("[main] instrument list %s: %v", cfg.StockListPath, err)
		} else {
			slog.Info("instrument list loaded", "path", cfg.StockListPath, "count", len(records))
		}
	}
	if cfg.AutoSubscribe {
		for _, rec := range records {
			if _, err := state.Subscribe(rec.Model()); err != nil {
				log.Printf("[main] auto-subscribe %s: %v", rec.Symbol, err)
				break
			}
		}
		m.Engines.Set(float64(state.EngineCount()))
		slog.Info("auto-subscribed", "engines", state.EngineCount())
	}

	store := snapshot.NewStore(cfg.SnapshotDir, state)
	store.OnWrite = func(d time.Duration) { m.SnapshotDur.Observe(d.Seconds()) }

	scheduler := reset.NewScheduler(state, store)

	// First boundary check records today's date; restore then keeps only the
	// current trading day's candles.
	scheduler.CheckAndReset(time.Now())
	store.RestoreAll(time.Now())

	poller := oi.NewPoller(oi.Config{
		BaseURL:  cfg.DhanAPIBase,
		ClientID: cfg.DhanClientID,
		Interval: cfg.OIPollInterval,
	}, state)
	poller.OnUpdate = m.OIUpdates.Inc
	poller.OnError = m.OIErrors.Inc

	go session.Run(ctx)
	go store.Run(ctx)
	go scheduler.Run(ctx)
	go poller.Run(ctx)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	apiSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(state, hub, health, records).Handler(),
	}
	go func() {
		slog.Info("api server listening", "addr", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[main] api server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	// Final snapshot pass so a clean restart resumes where we stopped.
	store.WriteAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
}
