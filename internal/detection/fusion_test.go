package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

func defaultFuser() *Fuser {
	return NewFuser(DefaultRuleWeight, DefaultMLWeight, models.SeverityMedium)
}

func TestClassifySeverityBands(t *testing.T) {
	assert.Equal(t, models.SeverityCritical, ClassifySeverity(0.8))
	assert.Equal(t, models.SeverityCritical, ClassifySeverity(1.0))
	assert.Equal(t, models.SeverityHigh, ClassifySeverity(0.6))
	assert.Equal(t, models.SeverityHigh, ClassifySeverity(0.79))
	assert.Equal(t, models.SeverityMedium, ClassifySeverity(0.3))
	assert.Equal(t, models.SeverityMedium, ClassifySeverity(0.59))
	assert.Equal(t, models.SeverityLow, ClassifySeverity(0.0))
	assert.Equal(t, models.SeverityLow, ClassifySeverity(0.29))
}

func TestClassifySeverityMonotone(t *testing.T) {
	prev := models.SeverityLow
	for s := 0.0; s <= 1.0; s += 0.01 {
		sev := ClassifySeverity(s)
		assert.GreaterOrEqual(t, sev.Rank(), prev.Rank(), "severity decreased at %f", s)
		prev = sev
	}
}

func TestFuseAllSafeIdle(t *testing.T) {
	r := defaultFuser().Fuse(0, 0)

	assert.Equal(t, 0.0, r.HybridScore)
	assert.Equal(t, models.ConcordanceAgreeLow, r.Concordance)
	assert.Equal(t, models.SeverityLow, r.Severity)
	assert.False(t, r.ShouldAlert)
}

func TestFusePanicPress(t *testing.T) {
	// Rules fire at 1.0, model silent: 0.6*1 + 0.4*0 = 0.6 with no adjustment.
	r := defaultFuser().Fuse(1.0, 0.0)

	assert.InDelta(t, 0.6, r.HybridScore, 1e-9)
	assert.Equal(t, models.ConcordanceRuleOnly, r.Concordance)
	assert.Equal(t, models.SeverityHigh, r.Severity)
	assert.True(t, r.ShouldAlert)
}

func TestFuseConcordantHigh(t *testing.T) {
	// Base 0.7, AGREE_HIGH bonus lifts it to 0.8: CRITICAL.
	r := defaultFuser().Fuse(0.7, 0.7)

	assert.InDelta(t, 0.8, r.HybridScore, 1e-9)
	assert.Equal(t, models.ConcordanceAgreeHigh, r.Concordance)
	assert.Equal(t, models.SeverityCritical, r.Severity)
	assert.True(t, r.ShouldAlert)
}

func TestFuseMLOnlyNoise(t *testing.T) {
	// Base 0.42 dampened to 0.294: stays LOW, no alert.
	r := defaultFuser().Fuse(0.1, 0.9)

	assert.InDelta(t, 0.294, r.HybridScore, 1e-9)
	assert.Equal(t, models.ConcordanceMLOnly, r.Concordance)
	assert.Equal(t, models.SeverityLow, r.Severity)
	assert.False(t, r.ShouldAlert)
}

func TestFuseAgreeHighCapped(t *testing.T) {
	r := defaultFuser().Fuse(1.0, 1.0)

	assert.Equal(t, 1.0, r.HybridScore)
	assert.Equal(t, models.ConcordanceAgreeHigh, r.Concordance)
}

func TestFuseConflict(t *testing.T) {
	r := defaultFuser().Fuse(0.4, 0.4)
	assert.Equal(t, models.ConcordanceConflict, r.Concordance)
	assert.InDelta(t, 0.4, r.HybridScore, 1e-9)
}

func TestConcordanceFirstMatch(t *testing.T) {
	cases := []struct {
		rule, ml float64
		want     string
	}{
		{0.6, 0.6, models.ConcordanceAgreeHigh},
		{0.1, 0.2, models.ConcordanceAgreeLow},
		{0.6, 0.2, models.ConcordanceRuleOnly},
		{0.1, 0.8, models.ConcordanceMLOnly},
		{0.1, 0.5, models.ConcordanceConflict},
		{0.3, 0.9, models.ConcordanceConflict},
		{0.5, 0.5, models.ConcordanceConflict},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, determineConcordance(tc.rule, tc.ml), "rule=%v ml=%v", tc.rule, tc.ml)
	}
}

func TestHybridScoreAlwaysInRange(t *testing.T) {
	f := defaultFuser()
	for _, rule := range []float64{0, 0.1, 0.5, 0.9, 1} {
		for _, ml := range []float64{0, 0.1, 0.5, 0.9, 1} {
			r := f.Fuse(rule, ml)
			assert.GreaterOrEqual(t, r.HybridScore, 0.0)
			assert.LessOrEqual(t, r.HybridScore, 1.0)
		}
	}
}

func TestShouldAlertMonotoneInSeverity(t *testing.T) {
	// For a fixed threshold, once a lower severity alerts, every higher
	// severity must alert too.
	for _, threshold := range []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical} {
		f := NewFuser(DefaultRuleWeight, DefaultMLWeight, threshold)
		alerted := false
		for _, score := range []float64{0.0, 0.3, 0.6, 0.8, 1.0} {
			r := f.Fuse(score, score)
			if alerted {
				assert.True(t, r.ShouldAlert, "threshold=%s score=%v", threshold, score)
			}
			alerted = alerted || r.ShouldAlert
		}
	}
}

func TestAlertThresholdOrdering(t *testing.T) {
	assert.True(t, models.SeverityCritical.Meets(models.SeverityMedium))
	assert.True(t, models.SeverityMedium.Meets(models.SeverityMedium))
	assert.False(t, models.SeverityLow.Meets(models.SeverityMedium))
	assert.True(t, models.SeverityLow.Meets(models.SeverityLow))
}
