// Package metrics defines the Prometheus instrumentation for the playback
// core. Collectors register on the default registry and are served by the
// HTTP server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts new sessions by outcome ("created", "reactivated").
	SessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aux",
		Name:      "sessions_created_total",
		Help:      "Sessions created or reactivated through login.",
	}, []string{"outcome"})

	// TrackAdvances counts queue advances by trigger ("timer", "manual").
	TrackAdvances = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aux",
		Name:      "track_advances_total",
		Help:      "Queue advances to the next track.",
	}, []string{"trigger"})

	// CredentialRefreshes counts provider token refreshes.
	CredentialRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aux",
		Name:      "credential_refreshes_total",
		Help:      "Provider access token refreshes.",
	})

	// RemotePollFailures counts failed player state polls by kind
	// ("transient", "unauthorized", "not_found").
	RemotePollFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aux",
		Name:      "remote_poll_failures_total",
		Help:      "Failed provider player state polls.",
	}, []string{"kind"})

	// ArmedTimers tracks the number of pending per-session advance timers.
	ArmedTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aux",
		Name:      "armed_timers",
		Help:      "Per-session advance timers currently armed.",
	})
)
