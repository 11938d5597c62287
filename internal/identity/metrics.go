package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailloop"

var (
	tokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by type",
		},
		[]string{"type"},
	)

	tokenVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "token_verifications_total",
			Help:      "Token verification attempts by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

// recordTokenIssued records a minted token.
func recordTokenIssued(tokenType string) {
	tokensIssued.WithLabelValues(tokenType).Inc()
}

// recordVerification records a verification attempt outcome.
func recordVerification(tokenType, outcome string) {
	tokenVerifications.WithLabelValues(tokenType, outcome).Inc()
}
