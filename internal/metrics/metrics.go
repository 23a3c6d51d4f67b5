package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userhub_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	LoginThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "userhub_login_throttled_total",
			Help: "Total number of throttled login attempts",
		},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userhub_token_refreshes_total",
			Help: "Total number of refresh token exchanges",
		},
		[]string{"result"},
	)

	ResetTicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "userhub_reset_tickets_issued_total",
			Help: "Total number of password reset tickets issued",
		},
	)

	ResetTicketsRedeemed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userhub_reset_tickets_redeemed_total",
			Help: "Total number of password reset redemption attempts",
		},
		[]string{"result"},
	)
)
