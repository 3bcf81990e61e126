package quality

import (
	"time"

	"github.com/ashita-ai/kaizen/internal/model"
)

// Direction tells which way a metric improves.
type Direction int

const (
	HigherIsBetter Direction = iota
	LowerIsBetter
)

// ExtractFunc reduces a slice of records to a metric value.
// ok is false when the records carry no samples for the metric.
type ExtractFunc func(recs []model.BehavioralRecord) (value float64, samples int, ok bool)

// MetricSpec describes one monitored metric.
type MetricSpec struct {
	Name      string
	Direction Direction
	// Component is the subsystem blamed when the metric degrades.
	Component string
	// Anomaly is the anomaly type raised when the metric degrades on its own.
	Anomaly model.AnomalyType
	Extract ExtractFunc
}

// DefaultMetrics returns the five standard metrics.
func DefaultMetrics() []MetricSpec {
	return []MetricSpec{
		{
			Name:      "accuracy",
			Direction: HigherIsBetter,
			Component: "scoring",
			Anomaly:   model.AnomalyAccuracyDrop,
			Extract: meanOf(func(r model.BehavioralRecord) (float64, bool) {
				if r.Accuracy == nil {
					return 0, false
				}
				return *r.Accuracy, true
			}),
		},
		{
			Name:      "response_time",
			Direction: LowerIsBetter,
			Component: "api",
			Anomaly:   model.AnomalyResponseTimeSpike,
			Extract: meanOf(func(r model.BehavioralRecord) (float64, bool) {
				if r.Kind != model.RecordSession || r.ResponseTimeMs <= 0 {
					return 0, false
				}
				return float64(r.ResponseTimeMs), true
			}),
		},
		{
			Name:      "error_rate",
			Direction: LowerIsBetter,
			Component: "pipeline",
			Anomaly:   model.AnomalyErrorRateIncrease,
			Extract: meanOf(func(r model.BehavioralRecord) (float64, bool) {
				if r.Kind != model.RecordSession {
					return 0, false
				}
				if r.Errored {
					return 1, true
				}
				return 0, true
			}),
		},
		{
			Name:      "satisfaction",
			Direction: HigherIsBetter,
			Component: "personalization",
			Anomaly:   model.AnomalySatisfactionDrop,
			Extract: meanOf(func(r model.BehavioralRecord) (float64, bool) {
				if r.Satisfaction == nil {
					return 0, false
				}
				return *r.Satisfaction, true
			}),
		},
		{
			Name:      "effectiveness",
			Direction: HigherIsBetter,
			Component: "patterns",
			Anomaly:   model.AnomalyEffectivenessDecline,
			Extract: meanOf(func(r model.BehavioralRecord) (float64, bool) {
				if r.Kind != model.RecordSession {
					return 0, false
				}
				if r.Succeeded() {
					return 1, true
				}
				return 0, true
			}),
		},
	}
}

// DefaultRelatedGroups lists metrics that tend to degrade together.
func DefaultRelatedGroups() [][]string {
	return [][]string{
		{"accuracy", "satisfaction"},
		{"effectiveness", "satisfaction"},
		{"response_time", "error_rate"},
	}
}

func meanOf(sample func(model.BehavioralRecord) (float64, bool)) ExtractFunc {
	return func(recs []model.BehavioralRecord) (float64, int, bool) {
		var sum float64
		n := 0
		for _, r := range recs {
			if v, ok := sample(r); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			return 0, 0, false
		}
		return sum / float64(n), n, true
	}
}

// Thresholds grade relative deviation from baseline.
type Thresholds struct {
	Degrade  float64
	Critical float64
}

// Degradation returns the signed relative deviation of current from baseline,
// positive when the metric moved in its bad direction. A zero baseline yields 0.
func Degradation(dir Direction, current, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	d := (current - baseline) / baseline
	if baseline < 0 {
		d = -d
	}
	if dir == HigherIsBetter {
		return -d
	}
	return d
}

// Classify builds the metric snapshot for one cycle.
//
//   - degradation >= Critical: critical trend, critical severity
//   - degradation >= Degrade: degrading, high at or past the midpoint, else medium
//   - improvement >= Degrade: improving, low
//   - otherwise improving or stable by sign, low
func Classify(spec MetricSpec, current, baseline float64, samples int, th Thresholds, now time.Time) model.QualityMetric {
	dev := Degradation(spec.Direction, current, baseline)
	m := model.QualityMetric{
		Name:           spec.Name,
		CurrentValue:   current,
		BaselineValue:  baseline,
		ThresholdMin:   baseline * (1 - th.Degrade),
		ThresholdMax:   baseline * (1 + th.Degrade),
		Deviation:      dev,
		SampleSize:     samples,
		ComputedAt:     now,
		ImpactSeverity: model.SeverityLow,
	}
	switch {
	case dev >= th.Critical:
		m.Trend = model.TrendCritical
		m.ImpactSeverity = model.SeverityCritical
	case dev >= th.Degrade:
		m.Trend = model.TrendDegrading
		if dev >= (th.Degrade+th.Critical)/2 {
			m.ImpactSeverity = model.SeverityHigh
		} else {
			m.ImpactSeverity = model.SeverityMedium
		}
	case dev < 0:
		m.Trend = model.TrendImproving
	default:
		m.Trend = model.TrendStable
	}
	return m
}

// trendHealth maps a trend onto a [0,1] health contribution.
func trendHealth(t model.Trend) float64 {
	switch t {
	case model.TrendCritical:
		return 0
	case model.TrendDegrading:
		return 0.5
	default:
		return 1
	}
}

// OverallHealth averages per-metric health. No metrics means fully healthy.
func OverallHealth(metrics []model.QualityMetric) float64 {
	if len(metrics) == 0 {
		return 1
	}
	var sum float64
	for _, m := range metrics {
		sum += trendHealth(m.Trend)
	}
	return sum / float64(len(metrics))
}
