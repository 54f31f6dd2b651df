package authapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricSignins = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pulse",
	Subsystem: "auth",
	Name:      "signins_total",
	Help:      "Sign-in attempts by result.",
}, []string{"result"})

const (
	signinSuccess  = "success"
	signinRejected = "rejected"
	signinError    = "error"
)
