package imagery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kitcheniq",
		Subsystem: "image_resolver",
		Name:      "cache_lookups_total",
		Help:      "Image cache lookups by result (hit, negative_hit, miss, stale).",
	}, []string{"result"})

	providerResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kitcheniq",
		Subsystem: "image_resolver",
		Name:      "provider_results_total",
		Help:      "Image provider calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kitcheniq",
		Subsystem: "image_resolver",
		Name:      "downloads_total",
		Help:      "Image downloads by result.",
	}, []string{"result"})
)
