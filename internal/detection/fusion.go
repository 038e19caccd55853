package detection

import (
	"github.com/rs/zerolog/log"

	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

// Default fusion weights. Rules dominate because they encode high-confidence
// domain knowledge; the model catches deviations the rules cannot express.
const (
	DefaultRuleWeight = 0.6
	DefaultMLWeight   = 0.4
)

// Fuser combines rule and ML scores into a single severity assessment.
type Fuser struct {
	ruleWeight     float64
	mlWeight       float64
	alertThreshold models.Severity
}

// NewFuser creates a fuser with the given weights and alert threshold.
func NewFuser(ruleWeight, mlWeight float64, alertThreshold models.Severity) *Fuser {
	return &Fuser{
		ruleWeight:     ruleWeight,
		mlWeight:       mlWeight,
		alertThreshold: alertThreshold,
	}
}

// Fuse computes the weighted hybrid score, applies the concordance
// adjustment, classifies severity, and decides whether to alert.
func (f *Fuser) Fuse(ruleScore, anomalyScore float64) models.FusionResult {
	hybrid := f.ruleWeight*ruleScore + f.mlWeight*anomalyScore

	concordance := determineConcordance(ruleScore, anomalyScore)

	switch concordance {
	case models.ConcordanceAgreeHigh:
		// Both systems agree on danger: boost confidence.
		hybrid += 0.1
		if hybrid > 1.0 {
			hybrid = 1.0
		}
	case models.ConcordanceMLOnly:
		// Only the model fires: dampen to reduce false positives.
		hybrid *= 0.7
	}

	if hybrid < 0 {
		hybrid = 0
	} else if hybrid > 1 {
		hybrid = 1
	}

	severity := ClassifySeverity(hybrid)
	shouldAlert := severity.Meets(f.alertThreshold)

	log.Debug().
		Float64("rule_score", ruleScore).
		Float64("anomaly_score", anomalyScore).
		Float64("hybrid_score", hybrid).
		Str("severity", string(severity)).
		Str("concordance", concordance).
		Bool("should_alert", shouldAlert).
		Msg("Fusion computed")

	return models.FusionResult{
		HybridScore:  hybrid,
		Severity:     severity,
		RuleScore:    ruleScore,
		AnomalyScore: anomalyScore,
		Concordance:  concordance,
		ShouldAlert:  shouldAlert,
	}
}

// determineConcordance classifies the agreement pattern between the rule and
// ML systems; first match wins.
//
//	| Rule  | ML    | Label      |
//	|-------|-------|------------|
//	| > 0.5 | > 0.5 | AGREE_HIGH |
//	| < 0.2 | < 0.3 | AGREE_LOW  |
//	| > 0.5 | < 0.3 | RULE_ONLY  |
//	| < 0.2 | > 0.7 | ML_ONLY    |
//	| other | other | CONFLICT   |
func determineConcordance(ruleScore, anomalyScore float64) string {
	switch {
	case ruleScore > 0.5 && anomalyScore > 0.5:
		return models.ConcordanceAgreeHigh
	case ruleScore < 0.2 && anomalyScore < 0.3:
		return models.ConcordanceAgreeLow
	case ruleScore > 0.5 && anomalyScore < 0.3:
		return models.ConcordanceRuleOnly
	case ruleScore < 0.2 && anomalyScore > 0.7:
		return models.ConcordanceMLOnly
	default:
		return models.ConcordanceConflict
	}
}
