// Package metrics registers the console's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the sign-in lifecycle counters.
type Metrics struct {
	SignInStarted    prometheus.Counter
	CallbackSuccess  prometheus.Counter
	CallbackFailure  prometheus.Counter
	RenewalSuccess   prometheus.Counter
	RenewalFailure   prometheus.Counter
	SignOutCompleted prometheus.Counter
}

// New creates and registers the console metrics with reg. Tests pass a fresh
// registry so parallel tests never fight over collector registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SignInStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "console_signin_started_total",
			Help: "Sign-in attempts redirected to the identity provider.",
		}),
		CallbackSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "console_signin_callback_success_total",
			Help: "Callback exchanges that produced a session.",
		}),
		CallbackFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "console_signin_callback_failure_total",
			Help: "Callback exchanges that failed.",
		}),
		RenewalSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "console_token_renewal_success_total",
			Help: "Silent token renewals that succeeded.",
		}),
		RenewalFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "console_token_renewal_failure_total",
			Help: "Silent token renewals that failed.",
		}),
		SignOutCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "console_signout_total",
			Help: "Sign-outs that cleared a local session.",
		}),
	}
}
