// Package metrics exposes Prometheus instrumentation and the health
// readout for the orderflow engine.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Vishtheendodoc/orderflow-new/internal/markethours"
)

// Metrics holds all Prometheus metrics for the orderflow engine.
type Metrics struct {
	TicksTotal     prometheus.Counter
	DroppedTicks   prometheus.Counter
	CandlesClosed  prometheus.Counter
	BroadcastsTotal prometheus.Counter
	WSReconnects   prometheus.Counter
	FrameErrors    prometheus.Counter
	OIUpdates      prometheus.Counter
	OIErrors       prometheus.Counter
	SnapshotDur    prometheus.Histogram
	Viewers        prometheus.Gauge
	Engines        prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_ticks_total",
			Help: "Total ticks routed into engines",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_dropped_ticks_total",
			Help: "Ticks dropped (unmapped instrument or non-positive price)",
		}),
		CandlesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_candles_closed_total",
			Help: "Footprint candles finalized by bucket rolls",
		}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_broadcasts_total",
			Help: "Snapshot fan-outs past the rate gate",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_ws_reconnects_total",
			Help: "Upstream feed reconnection attempts",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_frame_errors_total",
			Help: "Malformed upstream frames dropped",
		}),
		OIUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_oi_updates_total",
			Help: "Open interest values applied from the REST poller",
		}),
		OIErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_oi_errors_total",
			Help: "Failed OI poll segment calls",
		}),
		SnapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderflow_snapshot_write_duration_seconds",
			Help:    "Full snapshot write pass latency",
			Buckets: prometheus.DefBuckets,
		}),
		Viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_viewers",
			Help: "Connected viewer websockets",
		}),
		Engines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_engines",
			Help: "Registered symbol engines",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.CandlesClosed,
		m.BroadcastsTotal,
		m.WSReconnects,
		m.FrameErrors,
		m.OIUpdates,
		m.OIErrors,
		m.SnapshotDur,
		m.Viewers,
		m.Engines,
	)

	return m
}

// HealthStatus is the mutable health readout served on /healthz and
// /api/health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool
	Synthetic      bool
	LastTickTime   time.Time
	AuthBackoffSec float64
	EngineCount    int
	ViewerCount    int
	StartedAt      time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSynthetic(v bool) {
	h.mu.Lock()
	h.Synthetic = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetAuthBackoff(d time.Duration) {
	h.mu.Lock()
	h.AuthBackoffSec = d.Seconds()
	h.mu.Unlock()
}

func (h *HealthStatus) SetCounts(engines, viewers int) {
	h.mu.Lock()
	h.EngineCount = engines
	h.ViewerCount = viewers
	h.mu.Unlock()
}

// ServeHTTP handles the health endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := "ok"
	if !h.WSConnected && !h.Synthetic {
		status = "degraded"
	}

	out := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		WSConnected    bool    `json:"ws_connected"`
		Synthetic      bool    `json:"demo"`
		TickAge        string  `json:"tick_age"`
		AuthBackoffSec float64 `json:"auth_backoff_sec"`
		Engines        int     `json:"engines"`
		Viewers        int     `json:"viewers"`
		MarketStatus   string  `json:"market_status"`
	}{
		Status:         status,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:    h.WSConnected,
		Synthetic:      h.Synthetic,
		TickAge:        tickAge,
		AuthBackoffSec: h.AuthBackoffSec,
		Engines:        h.EngineCount,
		Viewers:        h.ViewerCount,
		MarketStatus:   markethours.StatusString(time.Now()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// Server exposes /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer creates the metrics/health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
