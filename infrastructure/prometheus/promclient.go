package promclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spooky-finn/go-orderbook-mirror/logger"
)

var OpenOrderBookGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "orderbook_open_sessions",
		Help: "open order book sessions",
	},
	[]string{"provider"},
)

var UpdatesAppliedCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_updates_applied_total",
		Help: "updates applied to local order books",
	},
	[]string{"provider"},
)

var SequenceGapCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_sequence_gaps_total",
		Help: "sequence gaps that forced a resync",
	},
	[]string{"provider"},
)

var SnapshotFetchCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_snapshot_fetches_total",
		Help: "REST snapshot fetches by result (ok, retry, failed)",
	},
	[]string{"provider", "result"},
)

var ReconnectCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_stream_reconnects_total",
		Help: "stream reconnect attempts",
	},
	[]string{"provider"},
)

var CrossedRepairCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_crossed_repairs_total",
		Help: "crossed book repairs",
	},
	[]string{"provider"},
)

var FlushCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_flushes_total",
		Help: "materialized views published",
	},
	[]string{"provider"},
)

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		OpenOrderBookGauge,
		UpdatesAppliedCounter,
		SequenceGapCounter,
		SnapshotFetchCounter,
		ReconnectCounter,
		CrossedRepairCounter,
		FlushCounter,
		collectors.NewGoCollector(),
	)
	return reg
}

// StartPromClientServer serves /metrics on addr until ctx is cancelled.
func StartPromClientServer(ctx context.Context, addr string) error {
	log := logger.GetLogger().WithComponent("promclient")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(NewRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(logger.Fields{"addr": addr}).Info("prometheus server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
