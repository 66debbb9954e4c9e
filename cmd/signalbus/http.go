package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/HomoYouDidnt/kloros-sub007/bus"
	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/health"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
)

// operatorServer exposes the operator surface: Prometheus metrics, the
// dead-letter store, and the aggregated health report.
type operatorServer struct {
	srv    *http.Server
	logger *slog.Logger
}

func newOperatorServer(addr string, b *bus.Bus, cfg *config.Config, registry *metric.Registry, logger *slog.Logger) *operatorServer {
	monitor := busHealthMonitor(b, cfg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	mux.HandleFunc("/deadletters", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		records := b.DeadLetters().List()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"count":     len(records),
			"discarded": b.DeadLetters().Discarded(),
			"records":   records,
		}); err != nil {
			logger.Warn("dead-letter encode failed", "error", err)
		}
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		report := monitor.System("signalbus")
		w.Header().Set("Content-Type", "application/json")
		if !report.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.Warn("health encode failed", "error", err)
		}
	})

	return &operatorServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "operator-http"),
	}
}

// busHealthMonitor wires live probes for the bus subsystems.
func busHealthMonitor(b *bus.Bus, cfg *config.Config) *health.Monitor {
	monitor := health.NewMonitor()

	monitor.RegisterProbe("relay", func() health.Status {
		if b.Healthy() {
			return health.NewHealthy("relay", "connected")
		}
		return health.NewUnhealthy("relay", "relay connection down")
	})

	monitor.RegisterProbe("trophic_queue", func() health.Status {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		depth, err := b.QueueDepth(ctx)
		if err != nil {
			return health.NewUnhealthy("trophic_queue", "depth unavailable")
		}
		msg := fmt.Sprintf("depth %d/%d", depth, cfg.Trophic.HighWaterMark)
		if depth >= uint64(cfg.Trophic.HighWaterMark) {
			return health.NewDegraded("trophic_queue", "at high-water mark, publishers blocking: "+msg)
		}
		return health.NewHealthy("trophic_queue", msg)
	})

	monitor.RegisterProbe("deadletters", func() health.Status {
		letters := b.DeadLetters()
		msg := fmt.Sprintf("%d held, %d discarded", letters.Len(), letters.Discarded())
		if letters.Discarded() > 0 {
			return health.NewDegraded("deadletters", "store overflowed, oldest records lost: "+msg)
		}
		return health.NewHealthy("deadletters", msg)
	})

	return monitor
}

// start serves in the background; listener errors are logged, not
// fatal, since the bus itself keeps running without the operator
// surface.
func (o *operatorServer) start() {
	go func() {
		o.logger.Info("operator surface listening", "addr", o.srv.Addr)
		if err := o.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.logger.Error("operator surface failed", "error", err)
		}
	}()
}

func (o *operatorServer) stop(ctx context.Context) {
	if err := o.srv.Shutdown(ctx); err != nil {
		o.logger.Warn("operator surface shutdown", "error", err)
	}
}
