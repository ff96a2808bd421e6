// Package metrics holds the Prometheus collectors for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockpulse_connections_active",
		Help: "Open websocket connections, bound or not.",
	})

	BoundConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockpulse_connections_bound",
		Help: "Connections with a registered user identity.",
	})

	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpulse_frames_sent_total",
		Help: "Frames queued for delivery, by message type.",
	}, []string{"type"})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpulse_frames_dropped_total",
		Help: "Frames evicted from a full outbound queue.",
	})

	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpulse_ticks_total",
		Help: "Price generator cycles.",
	})

	PersistWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpulse_persist_writes_total",
		Help: "Debounced user state writes, by result.",
	}, []string{"result"})

	ExportDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpulse_export_dropped_total",
		Help: "Ticks dropped because the export queue was full.",
	})
)
