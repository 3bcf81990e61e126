package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trend classifies a metric's movement relative to its baseline.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
	TrendCritical  Trend = "critical"
)

// Severity grades the impact of a metric deviation or anomaly.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the numeric rank of a severity (higher = worse).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Escalate returns the next severity level, capped at critical.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// QualityMetric is an immutable per-cycle snapshot of one monitored metric.
type QualityMetric struct {
	Name           string    `json:"name"`
	CurrentValue   float64   `json:"current_value"`
	BaselineValue  float64   `json:"baseline_value"`
	ThresholdMin   float64   `json:"threshold_min"`
	ThresholdMax   float64   `json:"threshold_max"`
	Deviation      float64   `json:"deviation"` // signed; positive means degradation
	Trend          Trend     `json:"trend"`
	ImpactSeverity Severity  `json:"impact_severity"`
	SampleSize     int       `json:"sample_size"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Degrading reports whether the metric is degrading or critical.
func (m QualityMetric) Degrading() bool {
	return m.Trend == TrendDegrading || m.Trend == TrendCritical
}

// AnomalyType enumerates the kinds of performance anomaly.
type AnomalyType string

const (
	AnomalyAccuracyDrop         AnomalyType = "accuracy_drop"
	AnomalyResponseTimeSpike    AnomalyType = "response_time_spike"
	AnomalyErrorRateIncrease    AnomalyType = "error_rate_increase"
	AnomalySatisfactionDrop     AnomalyType = "satisfaction_drop"
	AnomalyEffectivenessDecline AnomalyType = "effectiveness_decline"
	AnomalyComposite            AnomalyType = "composite_degradation"
)

// RootCause is the structured explanation attached to an anomaly.
type RootCause struct {
	PrimaryMetric     string   `json:"primary_metric"`
	Deviation         float64  `json:"deviation"`
	CorrelatedMetrics []string `json:"correlated_metrics,omitempty"`
	Notes             []string `json:"notes,omitempty"`
}

// PerformanceAnomaly is a detected deviation of one or more metrics.
// Immutable once logged to the sink.
type PerformanceAnomaly struct {
	ID                 uuid.UUID          `json:"id"`
	Fingerprint        string             `json:"fingerprint"`
	DetectedAt         time.Time          `json:"detected_at"`
	Type               AnomalyType        `json:"type"`
	Severity           Severity           `json:"severity"`
	AffectedComponents []string           `json:"affected_components"`
	MetricsInvolved    []QualityMetric    `json:"metrics_involved"`
	RootCause          RootCause          `json:"root_cause"`
	RecommendedActions []CorrectiveAction `json:"recommended_actions"`
	AutoCorrected      bool               `json:"auto_corrected"`
}

// RiskLevel grades how risky a corrective action is to apply unattended.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ActionType enumerates corrective action kinds.
type ActionType string

const (
	ActionThresholdAdjustment  ActionType = "threshold_adjustment"
	ActionCacheClear           ActionType = "cache_clear"
	ActionAlgorithmRollback    ActionType = "algorithm_rollback"
	ActionPersonalizationReset ActionType = "personalization_reset"
	ActionPatternRevalidation  ActionType = "pattern_revalidation"
)

// ActionDetails is the type-specific payload of a corrective action.
// Exactly one variant exists per ActionType.
type ActionDetails interface {
	ActionType() ActionType
}

// ThresholdAdjustment shifts a scoring threshold by Delta.
type ThresholdAdjustment struct {
	Metric string  `json:"metric"`
	Delta  float64 `json:"delta"`
}

// CacheClear invalidates cached results in Scope.
type CacheClear struct {
	Scope string `json:"scope"`
}

// AlgorithmRollback reverts Component to its previous known-good version.
type AlgorithmRollback struct {
	Component string `json:"component"`
}

// PersonalizationReset clears learned profile rules of the given kind.
type PersonalizationReset struct {
	RuleType RuleType `json:"rule_type"`
}

// PatternRevalidation returns validated patterns to pending above MaxAge.
type PatternRevalidation struct {
	MaxAge time.Duration `json:"max_age"`
}

func (ThresholdAdjustment) ActionType() ActionType  { return ActionThresholdAdjustment }
func (CacheClear) ActionType() ActionType           { return ActionCacheClear }
func (AlgorithmRollback) ActionType() ActionType    { return ActionAlgorithmRollback }
func (PersonalizationReset) ActionType() ActionType { return ActionPersonalizationReset }
func (PatternRevalidation) ActionType() ActionType  { return ActionPatternRevalidation }

// CorrectiveAction is a proposed or applied remediation tied to one anomaly.
type CorrectiveAction struct {
	ID                 uuid.UUID          `json:"id"`
	AnomalyID          uuid.UUID          `json:"anomaly_id"`
	ActionType         ActionType         `json:"action_type"`
	TargetComponents   []string           `json:"target_components"`
	ExpectedImpact     map[string]float64 `json:"expected_impact"`
	RiskLevel          RiskLevel          `json:"risk_level"`
	SuccessProbability float64            `json:"success_probability"`
	Details            ActionDetails      `json:"-"`
	Applied            bool               `json:"applied"`
	AppliedAt          *time.Time         `json:"applied_at,omitempty"`
}

type correctiveActionJSON struct {
	ID                 uuid.UUID          `json:"id"`
	AnomalyID          uuid.UUID          `json:"anomaly_id"`
	ActionType         ActionType         `json:"action_type"`
	TargetComponents   []string           `json:"target_components"`
	ExpectedImpact     map[string]float64 `json:"expected_impact"`
	RiskLevel          RiskLevel          `json:"risk_level"`
	SuccessProbability float64            `json:"success_probability"`
	Details            json.RawMessage    `json:"details,omitempty"`
	Applied            bool               `json:"applied"`
	AppliedAt          *time.Time         `json:"applied_at,omitempty"`
}

// MarshalJSON encodes Details under the "details" key; ActionType is the tag.
func (a CorrectiveAction) MarshalJSON() ([]byte, error) {
	out := correctiveActionJSON{
		ID:                 a.ID,
		AnomalyID:          a.AnomalyID,
		ActionType:         a.ActionType,
		TargetComponents:   a.TargetComponents,
		ExpectedImpact:     a.ExpectedImpact,
		RiskLevel:          a.RiskLevel,
		SuccessProbability: a.SuccessProbability,
		Applied:            a.Applied,
		AppliedAt:          a.AppliedAt,
	}
	if a.Details != nil {
		raw, err := json.Marshal(a.Details)
		if err != nil {
			return nil, fmt.Errorf("model: marshal action details: %w", err)
		}
		out.Details = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes Details into the variant selected by action_type.
func (a *CorrectiveAction) UnmarshalJSON(data []byte) error {
	var in correctiveActionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*a = CorrectiveAction{
		ID:                 in.ID,
		AnomalyID:          in.AnomalyID,
		ActionType:         in.ActionType,
		TargetComponents:   in.TargetComponents,
		ExpectedImpact:     in.ExpectedImpact,
		RiskLevel:          in.RiskLevel,
		SuccessProbability: in.SuccessProbability,
		Applied:            in.Applied,
		AppliedAt:          in.AppliedAt,
	}
	if len(in.Details) == 0 {
		return nil
	}
	var details ActionDetails
	switch in.ActionType {
	case ActionThresholdAdjustment:
		var d ThresholdAdjustment
		if err := json.Unmarshal(in.Details, &d); err != nil {
			return err
		}
		details = d
	case ActionCacheClear:
		var d CacheClear
		if err := json.Unmarshal(in.Details, &d); err != nil {
			return err
		}
		details = d
	case ActionAlgorithmRollback:
		var d AlgorithmRollback
		if err := json.Unmarshal(in.Details, &d); err != nil {
			return err
		}
		details = d
	case ActionPersonalizationReset:
		var d PersonalizationReset
		if err := json.Unmarshal(in.Details, &d); err != nil {
			return err
		}
		details = d
	case ActionPatternRevalidation:
		var d PatternRevalidation
		if err := json.Unmarshal(in.Details, &d); err != nil {
			return err
		}
		details = d
	default:
		return fmt.Errorf("model: unknown action type %q", in.ActionType)
	}
	a.Details = details
	return nil
}
