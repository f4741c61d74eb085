// Package metrics provides internal metrics collection for the coordination
// core. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates prometheus metrics for all coordination components.
// A nil *Collector is safe to use; every method becomes a no-op, so
// components can treat metrics as strictly optional.
type Collector struct {
	eventsPublished *prometheus.CounterVec

	routingTotal    *prometheus.CounterVec
	routingDuration *prometheus.HistogramVec

	votesCast      *prometheus.CounterVec
	sessionsClosed *prometheus.CounterVec

	handoffsTotal *prometheus.CounterVec

	workflowNodes *prometheus.CounterVec
	workflowRuns  *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registering metrics on reg. Passing a
// dedicated registerer keeps tests isolated; nil falls back to the default
// prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.eventsPublished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published on the bus",
		},
		[]string{"type"},
	)

	c.routingTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_total",
			Help:      "Total number of routing decisions",
		},
		[]string{"task_type", "outcome"},
	)

	c.routingDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_duration_seconds",
			Help:      "Routing decision duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	c.votesCast = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Total number of accepted votes",
		},
		[]string{"session_id"},
	)

	c.sessionsClosed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voting_sessions_closed_total",
			Help:      "Total number of closed voting sessions",
		},
		[]string{"algorithm", "consensus"},
	)

	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of handoff transitions",
		},
		[]string{"status"},
	)

	c.workflowNodes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_nodes_executed_total",
			Help:      "Total number of executed workflow nodes",
		},
		[]string{"kind"},
	)

	c.workflowRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow executions",
		},
		[]string{"outcome"},
	)

	return c
}

// RecordEventPublished counts one published bus event.
func (c *Collector) RecordEventPublished(eventType string) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordRouting counts one routing decision and its latency.
func (c *Collector) RecordRouting(taskType, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.routingTotal.WithLabelValues(taskType, outcome).Inc()
	c.routingDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// RecordVoteCast counts one accepted vote.
func (c *Collector) RecordVoteCast(sessionID string) {
	if c == nil {
		return
	}
	c.votesCast.WithLabelValues(sessionID).Inc()
}

// RecordSessionClosed counts one voting session close.
func (c *Collector) RecordSessionClosed(algorithm string, consensus bool) {
	if c == nil {
		return
	}
	outcome := "no_consensus"
	if consensus {
		outcome = "consensus"
	}
	c.sessionsClosed.WithLabelValues(algorithm, outcome).Inc()
}

// RecordHandoff counts one handoff transition by status.
func (c *Collector) RecordHandoff(status string) {
	if c == nil {
		return
	}
	c.handoffsTotal.WithLabelValues(status).Inc()
}

// RecordWorkflowNode counts one executed workflow node.
func (c *Collector) RecordWorkflowNode(kind string) {
	if c == nil {
		return
	}
	c.workflowNodes.WithLabelValues(kind).Inc()
}

// RecordWorkflowRun counts one finished workflow execution.
func (c *Collector) RecordWorkflowRun(success bool) {
	if c == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.workflowRuns.WithLabelValues(outcome).Inc()
}
