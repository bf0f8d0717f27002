// Package metrics holds the Prometheus collectors of dashconfd. They are
// registered on the default registry and served by the API on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts API requests by operation and resulting event kind.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashconf_requests_total",
		Help: "Total number of API requests, by operation and resulting event kind.",
	}, []string{"op", "result"})

	// DocumentWrites counts document saves by outcome (ok, error).
	DocumentWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashconf_document_writes_total",
		Help: "Total number of document writes, by outcome.",
	}, []string{"outcome"})

	// ExternalReloads counts reloads triggered by edits made outside the daemon.
	ExternalReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashconf_external_reloads_total",
		Help: "Total number of document reloads caused by external edits.",
	})

	// DroppedEvents counts events not delivered to a subscriber that fell behind.
	DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashconf_dropped_events_total",
		Help: "Total number of events dropped for slow subscribers.",
	})

	// Subscribers tracks open event streams.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashconf_event_subscribers",
		Help: "Current number of event stream subscribers.",
	})
)
