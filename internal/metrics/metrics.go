// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "seminar",
		Name:      "rooms_open",
		Help:      "Number of live rooms.",
	})

	PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "seminar",
		Name:      "peers_connected",
		Help:      "Number of registered peer sessions across all rooms.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seminar",
		Name:      "events_published_total",
		Help:      "Events fanned out, by channel.",
	}, []string{"channel"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seminar",
		Name:      "activity_events_dropped_total",
		Help:      "Best-effort activity events dropped under backpressure.",
	})

	SignalsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seminar",
		Name:      "signals_relayed_total",
		Help:      "Signaling envelopes relayed between peer pairs.",
	})

	MalformedEnvelopes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seminar",
		Name:      "malformed_envelopes_total",
		Help:      "Inbound frames rejected by the envelope decoder.",
	})

	PublishBusy = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seminar",
		Name:      "chat_publish_busy_total",
		Help:      "Chat publishes rejected because a subscriber queue was full.",
	})
)
