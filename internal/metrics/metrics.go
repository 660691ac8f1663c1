// Package metrics declares the Prometheus collectors of the chat service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	chatNamespace = "chat"

	resultLabelName = "result"
	typeLabelName   = "type"
	opLabelName     = "op"

	ResultDelivered = "delivered"
	ResultFailed    = "failed"
)

var (
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: chatNamespace,
			Name:      "sessions_active",
			Help:      "number of registered websocket sessions",
		})

	SessionsAuthenticated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: chatNamespace,
			Name:      "sessions_authenticated",
			Help:      "number of registered sessions that completed auth",
		})

	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Name:      "frames_total",
			Help:      "inbound frames by envelope type",
		}, []string{typeLabelName})

	BroadcastDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Name:      "broadcast_deliveries_total",
			Help:      "per-recipient broadcast writes by result",
		}, []string{resultLabelName})

	SessionsReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Name:      "sessions_reaped_total",
			Help:      "sessions closed by the idle reaper",
		})

	TypingSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Name:      "typing_indicators_swept_total",
			Help:      "expired typing indicators removed by the sweep",
		})

	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Name:      "store_errors_total",
			Help:      "store failures that were logged and swallowed",
		}, []string{opLabelName})

	PersistDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Name:      "persist_dropped_total",
			Help:      "messages whose async save could not be scheduled",
		})
)

var registerOnce sync.Once

// Register registers every chat collector with r. Subsequent calls are no-ops.
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(SessionsActive)
		r.MustRegister(SessionsAuthenticated)
		r.MustRegister(FramesTotal)
		r.MustRegister(BroadcastDeliveries)
		r.MustRegister(SessionsReaped)
		r.MustRegister(TypingSwept)
		r.MustRegister(StoreErrors)
		r.MustRegister(PersistDropped)
	})
}
