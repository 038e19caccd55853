package detection

import "github.com/hit123esh/Smart-Tourist-Safety/internal/models"

// Severity thresholds shared by the rule engine and the fusion step.
// Comparison is inclusive at each band.
const (
	criticalThreshold = 0.8
	highThreshold     = 0.6
	mediumThreshold   = 0.3
)

// bandTolerance absorbs float64 rounding so that a score which is a band
// boundary in exact arithmetic (0.7 + 0.1 = 0.8) lands in that band.
const bandTolerance = 1e-9

// ClassifySeverity maps a [0,1] score to a severity label.
func ClassifySeverity(score float64) models.Severity {
	score += bandTolerance
	switch {
	case score >= criticalThreshold:
		return models.SeverityCritical
	case score >= highThreshold:
		return models.SeverityHigh
	case score >= mediumThreshold:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
