package api

import (
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/seyacat/milsim-sub000/internal/session"
)

// Metrics with bounded cardinality. Action labels come from the fixed
// dispatch table, never from client input.
var (
	gamesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "milsim_games_active",
		Help: "Currently registered games",
	})

	gameActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "milsim_game_actions_total",
		Help: "Dispatched game actions",
	}, []string{"action"})

	gameActionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "milsim_game_action_errors_total",
		Help: "Game actions rejected by validation or state checks",
	}, []string{"action"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "milsim_websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "milsim_websocket_messages_total",
		Help: "Total WebSocket frames sent",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "milsim_connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "auth", "ws_total_limit", "ws_ip_limit"
)

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string // MUST stay on localhost in production
}

// DefaultObservabilityConfig returns safe defaults.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// StartDebugServer starts the internal observability server with pprof and
// the Prometheus scrape endpoint. It must bind to localhost only; exposing
// pprof externally is an easy DoS.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Warn().Msg("debug server forced to localhost")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("debug server starting")
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			log.Error().Err(err).Msg("debug server exited")
		}
	}()
	return nil
}

// UpdateGamesActive updates the registered-games gauge.
func UpdateGamesActive(count int) {
	gamesActive.Set(float64(count))
}

// metricActionLabel clamps client-supplied action strings to the dispatch
// contract so an attacker cannot mint label values.
func metricActionLabel(action string) string {
	if session.KnownAction(action) {
		return action
	}
	return "unknown"
}

// RecordAction counts a dispatched action and, if it failed, the error.
func RecordAction(action string, err error) {
	gameActionsTotal.WithLabelValues(action).Inc()
	if err != nil {
		gameActionErrors.WithLabelValues(action).Inc()
	}
}

// UpdateWSConnections updates the WebSocket connection gauge.
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages counts one sent frame.
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}

// RecordConnectionRejected counts a rejected connection by reason.
// reason must be one of the bounded values documented on the metric.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}
