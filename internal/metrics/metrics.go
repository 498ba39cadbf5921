// Package metrics defines the Prometheus metrics exported by the chat
// server. It is the single source of truth for metric names, labels and
// help strings. All metrics register themselves with the default registry
// at init time via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tether"

// OpenConnections tracks the number of currently open sockets, whether or
// not they have authenticated yet.
var OpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_connections",
		Help:      "Number of currently open chat sockets.",
	},
)

// OnlineUsers tracks the number of usernames currently bound to a live
// connection in the presence registry.
var OnlineUsers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online_users",
		Help:      "Number of usernames currently online.",
	},
)

// MessagesSentTotal counts messages durably stored.
// Label:
//   - delivery: "live" when the receiver was online and got a push,
//     "stored_only" when the message waits for the next history load
var MessagesSentTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Total number of messages persisted, by delivery outcome.",
	},
	[]string{"delivery"},
)

// AuthFailuresTotal counts rejected authentication attempts.
// Label:
//   - reason: "unknown_user", "bad_password", "username_taken",
//     "needs_setup", "rate_limited", "store_error", "bad_token"
var AuthFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_failures_total",
		Help:      "Total number of failed login/signup/setup attempts, by reason.",
	},
	[]string{"reason"},
)

// RosterBroadcastDuration measures how long one full roster push takes,
// from store query to the last connection write.
var RosterBroadcastDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "roster_broadcast_duration_seconds",
		Help:      "Duration of a full roster recompute and broadcast.",
		Buckets:   prometheus.DefBuckets,
	},
)
