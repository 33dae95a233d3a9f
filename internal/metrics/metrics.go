// Package metrics holds the prometheus collectors updated by sessions and
// streams. Nothing is registered until Register is called.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_events_received_total",
			Help: "Total number of events delivered by subscribe streams",
		},
		[]string{"topic"},
	)

	DemandRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_demand_requests_total",
			Help: "Total number of fetch requests sent to top up flow-control demand",
		},
		[]string{"topic"},
	)

	PublishResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_publish_results_total",
			Help: "Total number of publish acknowledgements by status",
		},
		[]string{"topic", "status"},
	)

	PublishInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_publish_in_flight",
		Help: "Events sent on publish streams and not yet acknowledged",
	})

	Reauthentications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_reauthentications_total",
			Help: "Total number of token refreshes by outcome",
		},
		[]string{"outcome"},
	)

	StreamReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_stream_reconnects_total",
			Help: "Total number of stream re-establishments",
		},
		[]string{"stream", "reason"},
	)

	SchemaFetches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_schema_fetches_total",
		Help: "Total number of upstream schema fetches (cache misses)",
	})

	HandlerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pubsub_handler_duration_seconds",
			Help:    "Time spent in the application event handler",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		EventsReceived, DemandRequests, PublishResults, PublishInFlight,
		Reauthentications, StreamReconnects, SchemaFetches, HandlerLatency,
	}
}

// Register adds every collector to reg. Collectors that are already
// registered there are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// PushEvent records one delivered event and the time the handler took.
func PushEvent(topic string, handlerSeconds float64) {
	EventsReceived.WithLabelValues(topic).Inc()
	HandlerLatency.WithLabelValues(topic).Observe(handlerSeconds)
}

// PushPublishResult records one publish acknowledgement.
func PushPublishResult(topic string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	PublishResults.WithLabelValues(topic, status).Inc()
}
