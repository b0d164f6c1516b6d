// Package metrics exposes Prometheus collectors for group retrieval.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devicegroups_requests_sent_total",
			Help: "The total number of group requests published",
		},
	)
	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devicegroups_publish_failures_total",
			Help: "The total number of group requests the transport rejected",
		},
	)
	ResponsesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devicegroups_responses_applied_total",
			Help: "The total number of group payloads applied",
		},
	)
	ResponsesIgnored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devicegroups_responses_ignored_total",
			Help: "The total number of group payloads received while no response was expected",
		},
	)
	ParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devicegroups_parse_failures_total",
			Help: "The total number of group payloads that could not be decoded",
		},
	)
	ResponseTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devicegroups_response_timeouts_total",
			Help: "The total number of group requests that were not answered in time",
		},
	)
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devicegroups_notifications_total",
			Help: "The total number of membership notifications by type",
		},
		[]string{"type"},
	)
	GroupCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devicegroups_groups",
			Help: "Number of groups the device currently belongs to",
		},
	)
	Connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devicegroups_transport_up",
			Help: "Connection with the publish/subscribe transport",
		},
	)
)

// SetConnected records the transport connection state.
func SetConnected(connected bool) {
	if connected {
		Connected.Set(1)
	} else {
		Connected.Set(0)
	}
}
