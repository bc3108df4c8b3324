// Package metrics registers the Prometheus collectors for the
// authorization server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensIssued counts minted tokens by grant type and token kind.
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "featherauth",
		Name:      "tokens_issued_total",
		Help:      "Tokens issued, labeled by grant type and token kind.",
	}, []string{"grant_type", "kind"})

	// TokenVerifications counts access token verification outcomes.
	TokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "featherauth",
		Name:      "token_verifications_total",
		Help:      "Access token verification attempts by outcome.",
	}, []string{"outcome"})

	// GrantDuration observes token endpoint latency per grant type.
	GrantDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "featherauth",
		Name:      "grant_duration_seconds",
		Help:      "Token endpoint processing time per grant type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"grant_type"})

	// AuditEvents counts audit events by type.
	AuditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "featherauth",
		Name:      "audit_events_total",
		Help:      "Audit events emitted by type.",
	}, []string{"event_type"})

	// CleanupRemoved counts rows removed by the periodic cleanup.
	CleanupRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "featherauth",
		Name:      "cleanup_removed_total",
		Help:      "Rows purged by the periodic cleanup, by table.",
	}, []string{"table"})

	// HTTPRequests counts requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "featherauth",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"route", "status"})
)
