package models

import (
	"time"

	"github.com/google/uuid"
)

// ZoneState enum values
const (
	ZoneSafe        = "SAFE"
	ZoneNearCaution = "NEAR_CAUTION"
	ZoneInCaution   = "IN_CAUTION"
	ZoneNearDanger  = "NEAR_DANGER"
	ZoneInDanger    = "IN_DANGER"
)

// EventType enum values
const (
	EventMove      = "MOVE"
	EventZoneEnter = "ZONE_ENTER"
	EventZoneExit  = "ZONE_EXIT"
	EventPanic     = "PANIC"
)

// SimulationMode values
const (
	SimulationModeSafe = "safe"
)

// Event is one observation of one tourist. Latitude/longitude are pointers
// because the simulator may emit rows without a fix; a nil coordinate skips
// that segment in distance computation.
type Event struct {
	TouristID      string    `json:"tourist_id"`
	Timestamp      time.Time `json:"timestamp"`
	ZoneState      string    `json:"zone_state"`
	EventType      string    `json:"event_type"`
	RiskTimerValue float64   `json:"risk_timer_value"`
	Latitude       *float64  `json:"latitude"`
	Longitude      *float64  `json:"longitude"`
	SimulationMode string    `json:"simulation_mode"`
}

// HasCoordinates reports whether the event carries a usable lat/lng pair.
func (e *Event) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// AggregatedWindow is one row of the 2-minute aggregation view, one per
// active tourist. Numeric fields default to 0 when the view returns NULL.
type AggregatedWindow struct {
	TouristID       string   `json:"tourist_id"`
	EventCount      float64  `json:"event_count"`
	UniqueZones     float64  `json:"unique_zones"`
	DangerRatio     float64  `json:"danger_ratio"`
	CautionRatio    float64  `json:"caution_ratio"`
	PanicCount      float64  `json:"panic_count"`
	ZoneTransitions float64  `json:"zone_transitions"`
	MaxRiskTimer    float64  `json:"max_risk_timer"`
	AvgRiskTimer    float64  `json:"avg_risk_timer"`
	LatStd          float64  `json:"lat_std"`
	LngStd          float64  `json:"lng_std"`
	LatestZoneState string   `json:"latest_zone_state"`
	LatestLatitude  *float64 `json:"latest_latitude"`
	LatestLongitude *float64 `json:"latest_longitude"`
}

// FeatureVector is the canonical 12-feature mapping consumed by both the
// rule engine and the isolation forest. Key set and ordering are defined by
// features.FeatureColumns.
type FeatureVector map[string]float64

// Get returns the named feature, or 0 if absent.
func (f FeatureVector) Get(name string) float64 {
	return f[name]
}

// Severity is the ordered alert severity label.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity (LOW=0 … CRITICAL=3).
// Unknown labels rank below LOW so they never satisfy an alert threshold.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Meets reports whether s ranks at or above threshold.
func (s Severity) Meets(threshold Severity) bool {
	return s.Rank() >= threshold.Rank()
}

// ParseSeverity maps a config string to a Severity, defaulting to MEDIUM.
func ParseSeverity(s string) Severity {
	sev := Severity(s)
	if _, ok := severityRank[sev]; ok {
		return sev
	}
	return SeverityMedium
}

// RuleResult is the outcome of evaluating a single rule.
type RuleResult struct {
	RuleID      string  `json:"rule_id"`
	Triggered   bool    `json:"triggered"`
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// RuleEngineOutput aggregates all rule results for one tourist window.
type RuleEngineOutput struct {
	RuleScore      float64      `json:"rule_score"`
	TriggeredRules []string     `json:"triggered_rules"`
	Details        []RuleResult `json:"details"`
	Severity       Severity     `json:"severity"`
}

// FusionResult is the output of combining rule and ML scores.
type FusionResult struct {
	HybridScore  float64  `json:"hybrid_score"`
	Severity     Severity `json:"severity"`
	RuleScore    float64  `json:"rule_score"`
	AnomalyScore float64  `json:"anomaly_score"`
	Concordance  string   `json:"concordance"`
	ShouldAlert  bool     `json:"should_alert"`
}

// Concordance labels for the fusion step.
const (
	ConcordanceAgreeHigh = "AGREE_HIGH"
	ConcordanceAgreeLow  = "AGREE_LOW"
	ConcordanceRuleOnly  = "RULE_ONLY"
	ConcordanceMLOnly    = "ML_ONLY"
	ConcordanceConflict  = "CONFLICT"
)

// IncidentAlert is the row written to incident_alerts when an analysis cycle
// decides to alert. Scores are rounded to 4 decimals and feature values to 6
// before persisting.
type IncidentAlert struct {
	ID             uuid.UUID          `json:"id"`
	TouristID      string             `json:"tourist_id"`
	Timestamp      time.Time          `json:"timestamp"`
	RuleScore      float64            `json:"rule_score"`
	AnomalyScore   float64            `json:"anomaly_score"`
	HybridScore    float64            `json:"hybrid_score"`
	Severity       Severity           `json:"severity"`
	TriggeredRules []string           `json:"triggered_rules"`
	FeatureVector  map[string]float64 `json:"feature_vector"`
	Latitude       *float64           `json:"latitude"`
	Longitude      *float64           `json:"longitude"`
	ZoneState      string             `json:"zone_state"`
	ModelVersion   string             `json:"model_version"`
}

// TrainingWindow is one (tourist, window) feature row produced by the
// training-matrix builder.
type TrainingWindow struct {
	TouristID string        `json:"tourist_id"`
	Features  FeatureVector `json:"features"`
}
