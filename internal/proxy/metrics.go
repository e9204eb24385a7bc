package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	completionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatproxy_completions_total",
			Help: "Total completion calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	tokensConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatproxy_tokens_consumed_total",
			Help: "Total tokens charged against quota records",
		},
	)

	usageMissingTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatproxy_usage_missing_total",
			Help: "Total successful upstream responses that carried no usage block",
		},
	)

	keysIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatproxy_keys_issued_total",
			Help: "Total newly issued access keys",
		},
	)
)
