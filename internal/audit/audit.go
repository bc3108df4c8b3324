// Package audit emits structured security events for the OAuth core.
package audit

import (
	"context"

	"github.com/featherauth/featherauth/internal/metrics"
	"github.com/featherauth/featherauth/internal/observability/logger"
)

// Event types emitted by the authorization server.
const (
	EventAuthorizationCodeIssued = "authorization_code.issued"
	EventTokenIssued             = "token.issued"
	EventTokenRefreshed          = "token.refreshed"
	EventTokenRevoked            = "token.revoked"
	EventConsentGranted          = "consent.granted"
	EventConsentRevoked          = "consent.revoked"
	EventClientAuthFailed        = "client.auth_failed"
	EventKeyRotated              = "key.rotated"
)

// Event is one audit record.
type Event struct {
	EventType string
	ClientID  string
	UserID    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// LogOAuthEvent writes the event to the structured log and bumps the
// per-event-type counter. The log is the sink; an external shipper picks
// it up from there.
func LogOAuthEvent(ctx context.Context, ev Event) {
	log := logger.From(ctx).Named("audit").With(
		logger.String("event_type", ev.EventType),
	)
	if ev.ClientID != "" {
		log = log.With(logger.ClientID(ev.ClientID))
	}
	if ev.UserID != "" {
		log = log.With(logger.UserID(ev.UserID))
	}
	if ev.IPAddress != "" {
		log = log.With(logger.ClientIP(ev.IPAddress))
	}
	if ev.UserAgent != "" {
		log = log.With(logger.UserAgent(ev.UserAgent))
	}
	if len(ev.Metadata) > 0 {
		log = log.With(logger.Any("metadata", ev.Metadata))
	}
	log.Info("oauth event")

	metrics.AuditEvents.WithLabelValues(ev.EventType).Inc()
}
