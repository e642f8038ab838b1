// Package metrics provides Prometheus instrumentation for the messaging
// service: counters for message and email throughput, gauges for live
// connections and presence, and a histogram for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSent counts durably written messages.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messaging_messages_sent_total",
		Help: "Total number of messages durably written",
	})

	// SendFailures counts failed durable writes (the optimistic entry is
	// rolled back client-side for each of these).
	SendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messaging_send_failures_total",
		Help: "Total number of failed message writes",
	})

	// MessagesMarkedRead counts messages flipped to read.
	MessagesMarkedRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messaging_messages_marked_read_total",
		Help: "Total number of messages marked read",
	})

	// EmailsDispatched counts out-of-band email decisions by result:
	// "sent", "failed", "skipped_online", "skipped_no_address".
	EmailsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_emails_dispatched_total",
		Help: "Out-of-band email dispatch decisions",
	}, []string{"result"})

	// OnlineUsers tracks the size of the local presence set.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_online_users",
		Help: "Current number of users in the presence set",
	})

	// ConnectionsTotal tracks active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// SendLatency records durable write latency in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messaging_send_latency_seconds",
		Help:    "Durable message write latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		SendFailures,
		MessagesMarkedRead,
		EmailsDispatched,
		OnlineUsers,
		ConnectionsTotal,
		SendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
