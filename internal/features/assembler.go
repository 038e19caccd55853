// Package features transforms raw tourist events into the 12-dimensional
// feature vector consumed by both the rule engine and the isolation forest.
//
// Two modes of operation: the live inference path enriches a pre-aggregated
// view row with the two distance-derived features, and the training path
// builds the full feature matrix from raw events with a sliding window.
package features

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/hit123esh/Smart-Tourist-Safety/internal/geo"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

// Canonical feature names. The ordering is a stable contract consumed by the
// model bundle; changing it invalidates every persisted model.
const (
	FeatureEventCount       = "event_count"
	FeatureUniqueZones      = "unique_zones"
	FeatureDangerRatio      = "danger_ratio"
	FeatureCautionRatio     = "caution_ratio"
	FeaturePanicCount       = "panic_count"
	FeatureZoneTransitions  = "zone_transitions"
	FeatureMaxRiskTimer     = "max_risk_timer"
	FeatureAvgRiskTimer     = "avg_risk_timer"
	FeatureLatStd           = "lat_std"
	FeatureLngStd           = "lng_std"
	FeatureDistanceTraveled = "distance_traveled"
	FeatureSpeedEstimate    = "speed_estimate"
)

// FeatureColumns is the canonical model input ordering.
var FeatureColumns = []string{
	FeatureEventCount,
	FeatureUniqueZones,
	FeatureDangerRatio,
	FeatureCautionRatio,
	FeaturePanicCount,
	FeatureZoneTransitions,
	FeatureMaxRiskTimer,
	FeatureAvgRiskTimer,
	FeatureLatStd,
	FeatureLngStd,
	FeatureDistanceTraveled,
	FeatureSpeedEstimate,
}

// DefaultWindowSeconds is the analysis window width.
const DefaultWindowSeconds = 120.0

// DefaultStrideSeconds is the training window stride.
const DefaultStrideSeconds = 30.0

// DistanceTraveled sums Haversine distances over consecutive event pairs in
// ascending timestamp order. Pairs with a missing coordinate are skipped
// without aborting; the event still anchors the next segment.
func DistanceTraveled(events []models.Event) float64 {
	sorted := sortByTimestamp(events)

	var total float64
	for i := 1; i < len(sorted); i++ {
		prev, curr := &sorted[i-1], &sorted[i]
		if !prev.HasCoordinates() || !curr.HasCoordinates() {
			continue
		}
		total += geo.Distance(*prev.Latitude, *prev.Longitude, *curr.Latitude, *curr.Longitude)
	}
	return total
}

// Enrich merges an aggregated view row with the raw events into the canonical
// feature vector, computing distance_traveled and speed_estimate which the
// SQL view cannot express.
func Enrich(agg *models.AggregatedWindow, rawEvents []models.Event, windowSeconds float64) models.FeatureVector {
	distance := DistanceTraveled(rawEvents)
	speed := 0.0
	if windowSeconds > 0 {
		speed = distance / windowSeconds
	}

	return models.FeatureVector{
		FeatureEventCount:       agg.EventCount,
		FeatureUniqueZones:      agg.UniqueZones,
		FeatureDangerRatio:      agg.DangerRatio,
		FeatureCautionRatio:     agg.CautionRatio,
		FeaturePanicCount:       agg.PanicCount,
		FeatureZoneTransitions:  agg.ZoneTransitions,
		FeatureMaxRiskTimer:     agg.MaxRiskTimer,
		FeatureAvgRiskTimer:     agg.AvgRiskTimer,
		FeatureLatStd:           agg.LatStd,
		FeatureLngStd:           agg.LngStd,
		FeatureDistanceTraveled: distance,
		FeatureSpeedEstimate:    speed,
	}
}

// LatestZoneState derives the zone state of the most recent event, used when
// the aggregation view does not supply latest_zone_state.
func LatestZoneState(events []models.Event) string {
	var latest *models.Event
	for i := range events {
		if latest == nil || events[i].Timestamp.After(latest.Timestamp) {
			latest = &events[i]
		}
	}
	if latest == nil {
		return ""
	}
	return latest.ZoneState
}

// BuildTrainingMatrix groups events by tourist, sorts each group ascending by
// timestamp, and slides a window of windowSeconds width in strideSeconds
// increments starting at the group's first timestamp. Windows with at least
// three events become one feature row. Pure function; no external dependency.
func BuildTrainingMatrix(events []models.Event, windowSeconds, strideSeconds float64) []models.TrainingWindow {
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	if strideSeconds <= 0 {
		strideSeconds = DefaultStrideSeconds
	}

	groups := make(map[string][]models.Event)
	for _, e := range events {
		if e.TouristID == "" || e.Timestamp.IsZero() {
			continue
		}
		groups[e.TouristID] = append(groups[e.TouristID], e)
	}

	touristIDs := make([]string, 0, len(groups))
	for id := range groups {
		touristIDs = append(touristIDs, id)
	}
	sort.Strings(touristIDs)

	var rows []models.TrainingWindow
	for _, id := range touristIDs {
		group := sortByTimestamp(groups[id])

		first := group[0].Timestamp
		last := group[len(group)-1].Timestamp

		for current := first; !current.After(last); current = current.Add(durationSeconds(strideSeconds)) {
			windowEnd := current.Add(durationSeconds(windowSeconds))

			var window []models.Event
			for _, e := range group {
				if !e.Timestamp.Before(current) && e.Timestamp.Before(windowEnd) {
					window = append(window, e)
				}
			}

			if len(window) >= 3 {
				rows = append(rows, models.TrainingWindow{
					TouristID: id,
					Features:  aggregateWindow(window, windowSeconds),
				})
			}
		}
	}

	return rows
}

// aggregateWindow computes all 12 features directly from a window slice.
func aggregateWindow(window []models.Event, windowSeconds float64) models.FeatureVector {
	n := float64(len(window))

	zones := make(map[string]struct{})
	var dangerCount, cautionCount, panicCount, transitions float64
	timers := make([]float64, 0, len(window))
	var lats, lngs []float64

	for _, e := range window {
		zones[e.ZoneState] = struct{}{}
		switch e.ZoneState {
		case models.ZoneInDanger, models.ZoneNearDanger:
			dangerCount++
		case models.ZoneInCaution, models.ZoneNearCaution:
			cautionCount++
		}
		switch e.EventType {
		case models.EventPanic:
			panicCount++
		case models.EventZoneEnter, models.EventZoneExit:
			transitions++
		}
		timers = append(timers, e.RiskTimerValue)
		if e.HasCoordinates() {
			lats = append(lats, *e.Latitude)
			lngs = append(lngs, *e.Longitude)
		}
	}

	distance := DistanceTraveled(window)
	speed := 0.0
	if windowSeconds > 0 {
		speed = distance / windowSeconds
	}

	return models.FeatureVector{
		FeatureEventCount:       n,
		FeatureUniqueZones:      float64(len(zones)),
		FeatureDangerRatio:      dangerCount / n,
		FeatureCautionRatio:     cautionCount / n,
		FeaturePanicCount:       panicCount,
		FeatureZoneTransitions:  transitions,
		FeatureMaxRiskTimer:     maxOf(timers),
		FeatureAvgRiskTimer:     stat.Mean(timers, nil),
		FeatureLatStd:           sampleStdDev(lats),
		FeatureLngStd:           sampleStdDev(lngs),
		FeatureDistanceTraveled: distance,
		FeatureSpeedEstimate:    speed,
	}
}

// sampleStdDev is the n-1 standard deviation with 0 on degenerate inputs.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sd := stat.StdDev(values, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func sortByTimestamp(events []models.Event) []models.Event {
	sorted := make([]models.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

func durationSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
