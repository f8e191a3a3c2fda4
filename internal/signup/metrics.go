package signup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var signupAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "newsletter",
		Name:      "signup_attempts_total",
		Help:      "Signup attempts by outcome",
	},
	[]string{"outcome"},
)

func recordAttempt(outcome Outcome) {
	signupAttempts.WithLabelValues(string(outcome)).Inc()
}
