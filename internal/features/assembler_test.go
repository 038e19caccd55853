package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

func ptr(v float64) *float64 { return &v }

func eventAt(touristID string, ts time.Time, zone, eventType string, lat, lng float64) models.Event {
	return models.Event{
		TouristID:      touristID,
		Timestamp:      ts,
		ZoneState:      zone,
		EventType:      eventType,
		Latitude:       ptr(lat),
		Longitude:      ptr(lng),
		SimulationMode: models.SimulationModeSafe,
	}
}

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestEnrichContainsExactlyCanonicalFeatures(t *testing.T) {
	agg := &models.AggregatedWindow{TouristID: "t-1", EventCount: 5, DangerRatio: 0.2}

	f := Enrich(agg, nil, DefaultWindowSeconds)

	require.Len(t, f, len(FeatureColumns))
	for _, col := range FeatureColumns {
		_, ok := f[col]
		assert.True(t, ok, "missing feature %s", col)
	}
}

func TestEnrichMissingAggregatesDefaultToZero(t *testing.T) {
	f := Enrich(&models.AggregatedWindow{TouristID: "t-1"}, nil, DefaultWindowSeconds)

	for _, col := range FeatureColumns {
		assert.Equal(t, 0.0, f[col], col)
	}
}

func TestEnrichDistanceAndSpeed(t *testing.T) {
	events := []models.Event{
		eventAt("t-1", t0, models.ZoneSafe, models.EventMove, 10.0, 20.0),
		eventAt("t-1", t0.Add(30*time.Second), models.ZoneSafe, models.EventMove, 10.001, 20.0),
		eventAt("t-1", t0.Add(60*time.Second), models.ZoneSafe, models.EventMove, 10.002, 20.0),
	}

	f := Enrich(&models.AggregatedWindow{TouristID: "t-1", EventCount: 3}, events, 120)

	assert.InDelta(t, 222.4, f[FeatureDistanceTraveled], 2.0)
	assert.Equal(t, f[FeatureDistanceTraveled]/120, f[FeatureSpeedEstimate])
}

func TestEnrichSpeedZeroOnNonPositiveWindow(t *testing.T) {
	events := []models.Event{
		eventAt("t-1", t0, models.ZoneSafe, models.EventMove, 10.0, 20.0),
		eventAt("t-1", t0.Add(time.Second), models.ZoneSafe, models.EventMove, 10.01, 20.0),
	}

	f := Enrich(&models.AggregatedWindow{}, events, 0)
	assert.Greater(t, f[FeatureDistanceTraveled], 0.0)
	assert.Equal(t, 0.0, f[FeatureSpeedEstimate])
}

func TestEnrichIsDeterministic(t *testing.T) {
	agg := &models.AggregatedWindow{TouristID: "t-1", EventCount: 4, LatStd: 0.003, LngStd: 0.001}
	events := []models.Event{
		eventAt("t-1", t0.Add(10*time.Second), models.ZoneSafe, models.EventMove, 10.0005, 20.0),
		eventAt("t-1", t0, models.ZoneSafe, models.EventMove, 10.0, 20.0),
		eventAt("t-1", t0.Add(20*time.Second), models.ZoneInCaution, models.EventZoneEnter, 10.001, 20.0),
	}

	f1 := Enrich(agg, events, 120)
	f2 := Enrich(agg, events, 120)
	assert.Equal(t, f1, f2)
}

func TestDistanceTraveledSkipsMissingCoordinates(t *testing.T) {
	noFix := models.Event{TouristID: "t-1", Timestamp: t0.Add(30 * time.Second), ZoneState: models.ZoneSafe, EventType: models.EventMove}
	events := []models.Event{
		eventAt("t-1", t0, models.ZoneSafe, models.EventMove, 10.0, 20.0),
		noFix,
		eventAt("t-1", t0.Add(60*time.Second), models.ZoneSafe, models.EventMove, 10.001, 20.0),
	}

	// Both segments touching the fixless event are skipped.
	assert.Equal(t, 0.0, DistanceTraveled(events))
}

func TestDistanceTraveledUnsorted(t *testing.T) {
	events := []models.Event{
		eventAt("t-1", t0.Add(60*time.Second), models.ZoneSafe, models.EventMove, 10.002, 20.0),
		eventAt("t-1", t0, models.ZoneSafe, models.EventMove, 10.0, 20.0),
		eventAt("t-1", t0.Add(30*time.Second), models.ZoneSafe, models.EventMove, 10.001, 20.0),
	}

	// Sorted ascending before summing: 2 segments of ~111 m, not a zigzag.
	assert.InDelta(t, 222.4, DistanceTraveled(events), 2.0)
}

func TestLatestZoneState(t *testing.T) {
	events := []models.Event{
		eventAt("t-1", t0, models.ZoneSafe, models.EventMove, 10, 20),
		eventAt("t-1", t0.Add(50*time.Second), models.ZoneInDanger, models.EventZoneEnter, 10, 20),
		eventAt("t-1", t0.Add(20*time.Second), models.ZoneInCaution, models.EventZoneEnter, 10, 20),
	}

	assert.Equal(t, models.ZoneInDanger, LatestZoneState(events))
	assert.Equal(t, "", LatestZoneState(nil))
}

func TestBuildTrainingMatrixEmptyInput(t *testing.T) {
	assert.Empty(t, BuildTrainingMatrix(nil, 120, 30))
}

func TestBuildTrainingMatrixSkipsSparseWindows(t *testing.T) {
	events := []models.Event{
		eventAt("t-1", t0, models.ZoneSafe, models.EventMove, 10, 20),
		eventAt("t-1", t0.Add(10*time.Second), models.ZoneSafe, models.EventMove, 10, 20),
	}

	// Two events never satisfy the three-event minimum.
	assert.Empty(t, BuildTrainingMatrix(events, 120, 30))
}

func TestBuildTrainingMatrixAggregates(t *testing.T) {
	events := []models.Event{
		eventAt("t-1", t0, models.ZoneSafe, models.EventMove, 10.0, 20.0),
		eventAt("t-1", t0.Add(20*time.Second), models.ZoneNearDanger, models.EventZoneEnter, 10.001, 20.0),
		eventAt("t-1", t0.Add(40*time.Second), models.ZoneInDanger, models.EventPanic, 10.002, 20.0),
		eventAt("t-1", t0.Add(60*time.Second), models.ZoneInDanger, models.EventMove, 10.003, 20.0),
	}
	events[2].RiskTimerValue = 45
	events[3].RiskTimerValue = 75

	rows := BuildTrainingMatrix(events, 120, 30)
	require.NotEmpty(t, rows)

	first := rows[0]
	assert.Equal(t, "t-1", first.TouristID)

	f := first.Features
	assert.Equal(t, 4.0, f[FeatureEventCount])
	assert.Equal(t, 3.0, f[FeatureUniqueZones])
	assert.Equal(t, 0.75, f[FeatureDangerRatio]) // NEAR_DANGER + 2x IN_DANGER
	assert.Equal(t, 0.0, f[FeatureCautionRatio])
	assert.Equal(t, 1.0, f[FeaturePanicCount])
	assert.Equal(t, 1.0, f[FeatureZoneTransitions])
	assert.Equal(t, 75.0, f[FeatureMaxRiskTimer])
	assert.Equal(t, 30.0, f[FeatureAvgRiskTimer])
	assert.Greater(t, f[FeatureLatStd], 0.0)
	assert.Equal(t, 0.0, f[FeatureLngStd])
	assert.Greater(t, f[FeatureDistanceTraveled], 0.0)
	assert.Equal(t, f[FeatureDistanceTraveled]/120, f[FeatureSpeedEstimate])
}

func TestBuildTrainingMatrixGroupsByTourist(t *testing.T) {
	var events []models.Event
	for _, id := range []string{"t-b", "t-a"} {
		for i := 0; i < 4; i++ {
			events = append(events, eventAt(id, t0.Add(time.Duration(i)*20*time.Second), models.ZoneSafe, models.EventMove, 10, 20))
		}
	}

	rows := BuildTrainingMatrix(events, 120, 30)
	require.NotEmpty(t, rows)

	// Tourist groups come out in sorted order.
	assert.Equal(t, "t-a", rows[0].TouristID)

	seen := map[string]bool{}
	for _, r := range rows {
		seen[r.TouristID] = true
	}
	assert.True(t, seen["t-a"])
	assert.True(t, seen["t-b"])
}

func TestBuildTrainingMatrixSlidesWindows(t *testing.T) {
	// 10 events at 30s spacing: the stride produces several overlapping
	// windows with at least 3 events each.
	var events []models.Event
	for i := 0; i < 10; i++ {
		events = append(events, eventAt("t-1", t0.Add(time.Duration(i)*30*time.Second), models.ZoneSafe, models.EventMove, 10, 20))
	}

	rows := BuildTrainingMatrix(events, 120, 30)
	assert.Greater(t, len(rows), 3)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.Features[FeatureEventCount], 3.0)
	}
}
