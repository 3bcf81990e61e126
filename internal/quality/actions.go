package quality

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kaizen/internal/model"
)

// ActionTemplate describes the corrective action proposed for an anomaly type.
type ActionTemplate struct {
	Type               model.ActionType
	Risk               model.RiskLevel
	SuccessProbability float64
	// Recovery is the fraction of the metric's deviation the action is
	// expected to win back.
	Recovery float64
	// Details builds the typed payload for the degraded metric.
	Details func(spec MetricSpec, m model.QualityMetric) model.ActionDetails
}

// DefaultTemplates maps each single-metric anomaly type to its action.
// Composite anomalies take the union of their members' templates.
func DefaultTemplates() map[model.AnomalyType]ActionTemplate {
	return map[model.AnomalyType]ActionTemplate{
		model.AnomalyAccuracyDrop: {
			Type: model.ActionThresholdAdjustment, Risk: model.RiskLow, SuccessProbability: 0.85, Recovery: 0.5,
			Details: func(_ MetricSpec, m model.QualityMetric) model.ActionDetails {
				return model.ThresholdAdjustment{Metric: m.Name, Delta: -0.05}
			},
		},
		model.AnomalyResponseTimeSpike: {
			Type: model.ActionCacheClear, Risk: model.RiskLow, SuccessProbability: 0.9, Recovery: 0.6,
			Details: func(spec MetricSpec, _ model.QualityMetric) model.ActionDetails {
				return model.CacheClear{Scope: spec.Component}
			},
		},
		model.AnomalyErrorRateIncrease: {
			Type: model.ActionAlgorithmRollback, Risk: model.RiskMedium, SuccessProbability: 0.75, Recovery: 0.8,
			Details: func(spec MetricSpec, _ model.QualityMetric) model.ActionDetails {
				return model.AlgorithmRollback{Component: spec.Component}
			},
		},
		model.AnomalySatisfactionDrop: {
			Type: model.ActionPersonalizationReset, Risk: model.RiskMedium, SuccessProbability: 0.6, Recovery: 0.4,
			Details: func(_ MetricSpec, _ model.QualityMetric) model.ActionDetails {
				return model.PersonalizationReset{RuleType: model.RuleContentPriority}
			},
		},
		model.AnomalyEffectivenessDecline: {
			Type: model.ActionPatternRevalidation, Risk: model.RiskLow, SuccessProbability: 0.7, Recovery: 0.3,
			Details: func(_ MetricSpec, _ model.QualityMetric) model.ActionDetails {
				return model.PatternRevalidation{MaxAge: 7 * 24 * time.Hour}
			},
		},
	}
}

// AutoApplicable reports whether an action may be applied without approval:
// auto-apply enabled, low risk and success probability above threshold.
func AutoApplicable(a model.CorrectiveAction, enabled bool, threshold float64) bool {
	return enabled && a.RiskLevel == model.RiskLow && a.SuccessProbability > threshold
}

func buildAction(anomalyID uuid.UUID, tmpl ActionTemplate, spec MetricSpec, m model.QualityMetric) model.CorrectiveAction {
	a := model.CorrectiveAction{
		ID:                 uuid.New(),
		AnomalyID:          anomalyID,
		ActionType:         tmpl.Type,
		TargetComponents:   []string{spec.Component},
		ExpectedImpact:     map[string]float64{m.Name: (m.BaselineValue - m.CurrentValue) * tmpl.Recovery},
		RiskLevel:          tmpl.Risk,
		SuccessProbability: tmpl.SuccessProbability,
	}
	if tmpl.Details != nil {
		a.Details = tmpl.Details(spec, m)
	}
	return a
}

// ActionApplier carries out a corrective action against the running system.
type ActionApplier interface {
	Apply(ctx context.Context, a model.CorrectiveAction) error
}

// ActionApplierFunc adapts a function to ActionApplier.
type ActionApplierFunc func(ctx context.Context, a model.CorrectiveAction) error

// Apply implements ActionApplier.
func (f ActionApplierFunc) Apply(ctx context.Context, a model.CorrectiveAction) error {
	return f(ctx, a)
}

// LogApplier records actions in the log and performs no side effects.
// It is the default when the host wires no real applier.
type LogApplier struct {
	Logger *slog.Logger
}

// Apply implements ActionApplier.
func (l LogApplier) Apply(_ context.Context, a model.CorrectiveAction) error {
	l.Logger.Info("quality: corrective action applied",
		"action_id", a.ID,
		"anomaly_id", a.AnomalyID,
		"action_type", a.ActionType,
		"targets", a.TargetComponents,
		"details", a.Details,
	)
	return nil
}
