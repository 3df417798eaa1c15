package hook

import (
	"fmt"
	"time"

	"github.com/hookguard/hookguard/internal/perfmon"
)

// metricsState holds the orchestrator's cumulative counters. Guarded by
// Orchestrator.metricsMu; the lock is held only for the read-modify-write of
// the update, never across validator execution or I/O.
type metricsState struct {
	total             int64
	passed            int64
	warnings          int64
	failed            int64
	bypassed          int64
	errors            int64
	totalExecTime     time.Duration
	securityIncidents int64
	validatorErrors   map[string]int64
}

// Metrics is a point-in-time snapshot of the orchestrator's counters.
type Metrics struct {
	Total                int64                              `json:"total_validations"`
	Passed               int64                              `json:"passed"`
	Warnings             int64                              `json:"warnings"`
	Failed               int64                              `json:"failed"`
	Bypassed             int64                              `json:"bypassed"`
	Errors               int64                              `json:"errors"`
	AverageExecutionTime time.Duration                      `json:"average_execution_time"`
	SecurityIncidents    int64                              `json:"security_incidents"`
	ValidatorErrors      map[string]int64                   `json:"validator_errors"`
	ValidatorStats       map[string]perfmon.ValidatorStats  `json:"validator_stats"`
}

// SuccessRate is the fraction of validations that passed or were bypassed.
func (m Metrics) SuccessRate() float64 {
	if m.Total == 0 {
		return 1.0
	}
	return float64(m.Passed+m.Bypassed) / float64(m.Total)
}

// securityIncidentThreshold: scores below this count as an incident.
const securityIncidentThreshold = 0.7

func (o *Orchestrator) updateMetrics(report *ValidationReport) {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()

	m := &o.metrics
	m.total++
	switch report.Result {
	case ResultPassed:
		m.passed++
	case ResultWarning:
		m.warnings++
	case ResultFailed:
		m.failed++
	case ResultBypassed:
		m.bypassed++
	case ResultError:
		m.errors++
	}
	m.totalExecTime += report.ExecutionTime
	if report.SecurityScore < securityIncidentThreshold {
		m.securityIncidents++
	}
}

func (o *Orchestrator) recordValidatorError(name string) {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()

	if o.metrics.validatorErrors == nil {
		o.metrics.validatorErrors = make(map[string]int64)
	}
	o.metrics.validatorErrors[name]++
}

// Metrics returns a snapshot of the cumulative counters combined with the
// performance monitor's per-validator stats.
func (o *Orchestrator) Metrics() Metrics {
	o.metricsMu.Lock()
	m := o.metrics
	validatorErrors := make(map[string]int64, len(m.validatorErrors))
	for k, v := range m.validatorErrors {
		validatorErrors[k] = v
	}
	o.metricsMu.Unlock()

	snap := Metrics{
		Total:             m.total,
		Passed:            m.passed,
		Warnings:          m.warnings,
		Failed:            m.failed,
		Bypassed:          m.bypassed,
		Errors:            m.errors,
		SecurityIncidents: m.securityIncidents,
		ValidatorErrors:   validatorErrors,
		ValidatorStats:    o.perf.Snapshot(),
	}
	if m.total > 0 {
		snap.AverageExecutionTime = m.totalExecTime / time.Duration(m.total)
	}
	return snap
}

// SystemReport combines metrics with performance data and natural-language
// recommendations for an operator.
type SystemReport struct {
	GeneratedAt     time.Time     `json:"generated_at"`
	Timeframe       time.Duration `json:"timeframe"`
	Metrics         Metrics       `json:"metrics"`
	Recommendations []string      `json:"recommendations"`
}

// Thresholds for report recommendations.
const (
	reportValidatorErrorRate = 0.10
	reportSuccessRate        = 0.80
	reportSlowAverage        = 500 * time.Millisecond
)

// GenerateReport produces an operator-facing summary for the given
// timeframe.
func (o *Orchestrator) GenerateReport(timeframe time.Duration) *SystemReport {
	metrics := o.Metrics()

	var recs []string

	for name, stats := range metrics.ValidatorStats {
		if stats.Calls > 0 && stats.ErrorRate() > reportValidatorErrorRate {
			recs = append(recs, fmt.Sprintf(
				"validator %q has a %.0f%% error rate, investigate its recent failures",
				name, stats.ErrorRate()*100))
		}
	}

	if metrics.Total > 0 && metrics.SuccessRate() < reportSuccessRate {
		recs = append(recs, fmt.Sprintf(
			"overall success rate is %.0f%%, review recent failed validations for false positives",
			metrics.SuccessRate()*100))
	}

	if metrics.AverageExecutionTime > reportSlowAverage {
		recs = append(recs, fmt.Sprintf(
			"average validation latency is %s, consider lowering the validation level or validator timeouts",
			metrics.AverageExecutionTime.Round(time.Millisecond)))
	}

	if metrics.SecurityIncidents > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d validation(s) scored below %.1f, audit the stored events for attempted policy violations",
			metrics.SecurityIncidents, securityIncidentThreshold))
	}

	if len(recs) == 0 {
		recs = append(recs, "validation system operating normally")
	}

	return &SystemReport{
		GeneratedAt:     time.Now(),
		Timeframe:       timeframe,
		Metrics:         metrics,
		Recommendations: recs,
	}
}
