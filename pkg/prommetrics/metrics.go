package prommetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegistryNamespace is the namespace for all registry engine metrics
const RegistryNamespace = "automation_registry"

// Values for the outcome label on RegistryReportEntryOutcome
const (
	OutcomePerformed = "performed"
	OutcomeStale     = "stale"
	OutcomeReorged   = "reorged"
	OutcomeCancelled = "cancelled"
)

var (
	RegistryReportsTransmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: RegistryNamespace,
		Name:      "reports_transmitted",
		Help:      "Count of reports accepted by the transmit path",
	})
	RegistryReportsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: RegistryNamespace,
		Name:      "reports_rejected",
		Help:      "Count of reports rejected before any state mutation",
	})
	RegistryReportEntryOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: RegistryNamespace,
		Name:      "report_entry_outcome",
		Help:      "Count of report entries routed to each outcome",
	}, []string{"outcome"})
	RegistryUpkeepsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: RegistryNamespace,
		Name:      "upkeeps_active",
		Help:      "Number of registered upkeeps that are not cancelled",
	})
	RegistryPremiumTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: RegistryNamespace,
		Name:      "premium_total",
		Help:      "Running committee premium accumulated by performances, in token wei",
	})
	RegistryPaymentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: RegistryNamespace,
		Name:      "payments_total",
		Help:      "Total charged to upkeeps across all performances, in token wei",
	})
)
