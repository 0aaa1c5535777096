// Package telemetry exposes the service's Prometheus collectors.
// Everything registers on the default registry; internal/app mounts
// promhttp.Handler() at /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed counts processed inbound messages by engine outcome.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formflow_messages_processed_total",
		Help: "Inbound messages processed, by outcome",
	}, []string{"outcome"})

	// MessageRetries counts redeliveries scheduled after a processing failure.
	MessageRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formflow_message_retries_total",
		Help: "Messages pushed back for retry after a processing failure",
	})

	// DeadLetters counts messages moved to the dead-letter store.
	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formflow_dead_letters_total",
		Help: "Messages that exhausted retries or were malformed",
	})

	// QueueDepth gauges the inbound queue backlog, sampled each poll tick.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "formflow_queue_depth",
		Help: "Messages waiting in the inbound queue",
	})

	// GatewaySends counts outbound gateway calls by final status.
	GatewaySends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formflow_gateway_sends_total",
		Help: "Outbound messages sent through the gateway, by status",
	}, []string{"status"})

	// StoreDiskBytes gauges on-disk size of the session store.
	StoreDiskBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "formflow_store_disk_bytes",
		Help: "Approximate on-disk size of the Pebble session store",
	})

	// HeapBytes gauges live heap allocation of the process.
	HeapBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "formflow_heap_bytes",
		Help: "Bytes of allocated heap objects",
	})

	// ProcessingSeconds observes per-message processing latency.
	ProcessingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "formflow_processing_seconds",
		Help:    "Time spent processing one inbound message",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	})
)
