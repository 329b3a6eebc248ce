package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconciledItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kitcheniq",
		Subsystem: "reconciler",
		Name:      "line_items_total",
		Help:      "Receipt line items reconciled by action (added, updated, failed).",
	}, []string{"action"})

	receiptsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kitcheniq",
		Subsystem: "receipts",
		Name:      "processed_total",
		Help:      "Uploaded receipts by result (ok, extraction_failed, unavailable).",
	}, []string{"result"})
)
