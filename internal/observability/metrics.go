package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChannelConnects   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_events", Name: "channel_connects_total", Help: "Successful channel connections"})
	ChannelReconnects = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_events", Name: "channel_reconnects_total", Help: "Reconnection attempts scheduled"})
	EventsDispatched  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "delivery_events", Name: "events_dispatched_total", Help: "Inbound events dispatched to listeners"},
		[]string{"event"},
	)
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_events", Name: "events_dropped_total", Help: "Inbound events dropped as malformed"})
	EmitsDropped  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_events", Name: "emits_dropped_total", Help: "Outbound emits dropped while disconnected"})

	OffersDispatched = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_events", Name: "offers_dispatched_total", Help: "Delivery offers sent to drivers"})
	OffersAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_events", Name: "offers_accepted_total", Help: "Delivery offers accepted"})
	OffersExpired    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_events", Name: "offers_expired_total", Help: "Delivery offers that expired unanswered"})
	DriversOnline    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "delivery_events", Name: "drivers_online", Help: "Registered driver connections"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "delivery_events", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "delivery_events",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
