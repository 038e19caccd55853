// Package detection holds the deterministic half of the hybrid pipeline:
// the six-rule engine, severity classification, and the fusion step that
// combines rule and ML scores.
package detection

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hit123esh/Smart-Tourist-Safety/internal/features"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

// rapidTransitionWindow is the maximum SAFE→IN_DANGER gap for R3.
const rapidTransitionWindow = 10 * time.Second

// Input is everything a rule may inspect for one tourist window. Events may
// be empty; rules that need the raw stream yield triggered=false in that
// case. LatestZoneState comes from the aggregation view when it supplies it,
// otherwise it is derived from the raw events.
type Input struct {
	Features        models.FeatureVector
	LatestZoneState string
	Events          []models.Event
}

// Rule is one deterministic danger predicate with its severity contribution.
type Rule struct {
	ID          string
	Description string
	Score       float64
	Evaluate    func(in Input) bool
}

// RuleEngine evaluates the fixed ordered rule set over a tourist window.
type RuleEngine struct {
	rules []Rule
}

// NewRuleEngine creates a rule engine with the built-in rule set.
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{rules: defaultRules()}
}

// Rules returns the rule definitions in evaluation order.
func (e *RuleEngine) Rules() []Rule {
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	return rules
}

func defaultRules() []Rule {
	return []Rule{
		{
			ID:          "R1",
			Description: "Sustained danger zone exposure (>=60s)",
			Score:       0.80,
			Evaluate: func(in Input) bool {
				return in.Features.Get(features.FeatureMaxRiskTimer) >= 60 &&
					in.Features.Get(features.FeatureDangerRatio) > 0.5
			},
		},
		{
			ID:          "R2",
			Description: "Panic button activated",
			Score:       1.00,
			Evaluate: func(in Input) bool {
				return in.Features.Get(features.FeaturePanicCount) > 0
			},
		},
		{
			ID:          "R3",
			Description: "Rapid safe-to-danger transition (<=10s)",
			Score:       0.70,
			Evaluate: func(in Input) bool {
				return hasRapidTransition(in.Events, rapidTransitionWindow)
			},
		},
		{
			ID:          "R4",
			Description: "Erratic zone transitions (>=3 in window)",
			Score:       0.60,
			Evaluate: func(in Input) bool {
				return in.Features.Get(features.FeatureZoneTransitions) >= 3
			},
		},
		{
			ID:          "R5",
			Description: "Extended danger exposure (>=120s)",
			Score:       0.90,
			Evaluate: func(in Input) bool {
				return in.Features.Get(features.FeatureMaxRiskTimer) >= 120
			},
		},
		{
			ID:          "R6",
			Description: "In danger zone >=30s with no exit",
			Score:       0.75,
			Evaluate: func(in Input) bool {
				if len(in.Events) == 0 {
					return false
				}
				for _, e := range in.Events {
					if e.EventType == models.EventZoneExit {
						return false
					}
				}
				return in.LatestZoneState == models.ZoneInDanger &&
					in.Features.Get(features.FeatureMaxRiskTimer) >= 30
			},
		},
	}
}

// hasRapidTransition scans the events in ascending timestamp order and fires
// when an IN_DANGER event follows a SAFE event within the threshold. Events
// without a usable timestamp are skipped.
func hasRapidTransition(events []models.Event, threshold time.Duration) bool {
	sorted := make([]models.Event, len(events))
	copy(sorted, events)
	sortEventsByTimestamp(sorted)

	var safeTS *time.Time
	for i := range sorted {
		e := &sorted[i]
		if e.Timestamp.IsZero() {
			continue
		}
		switch e.ZoneState {
		case models.ZoneSafe:
			ts := e.Timestamp
			safeTS = &ts
		case models.ZoneInDanger:
			if safeTS != nil && e.Timestamp.Sub(*safeTS) <= threshold {
				return true
			}
		}
	}
	return false
}

// Evaluate runs every rule against the input and composes the rule score.
// A panicking rule is logged and contributes nothing; the remaining rules
// still evaluate.
func (e *RuleEngine) Evaluate(in Input) models.RuleEngineOutput {
	results := make([]models.RuleResult, 0, len(e.rules))

	for _, rule := range e.rules {
		triggered := e.safeEvaluate(rule, in)
		score := 0.0
		if triggered {
			score = rule.Score
		}
		results = append(results, models.RuleResult{
			RuleID:      rule.ID,
			Triggered:   triggered,
			Score:       score,
			Description: rule.Description,
		})
	}

	var triggered []models.RuleResult
	for _, r := range results {
		if r.Triggered {
			triggered = append(triggered, r)
		}
	}

	if len(triggered) == 0 {
		return models.RuleEngineOutput{
			RuleScore:      0,
			TriggeredRules: []string{},
			Details:        results,
			Severity:       models.SeverityLow,
		}
	}

	score := triggered[0].Score
	ids := make([]string, 0, len(triggered))
	for _, r := range triggered {
		if r.Score > score {
			score = r.Score
		}
		ids = append(ids, r.RuleID)
	}
	if len(triggered) >= 2 {
		score = score + 0.1*float64(len(triggered)-1)
		if score > 1.0 {
			score = 1.0
		}
	}

	severity := ClassifySeverity(score)
	log.Info().
		Strs("triggered_rules", ids).
		Float64("rule_score", score).
		Str("severity", string(severity)).
		Msg("Rules triggered")

	return models.RuleEngineOutput{
		RuleScore:      score,
		TriggeredRules: ids,
		Details:        results,
		Severity:       severity,
	}
}

// safeEvaluate contains a rule failure so one bad rule cannot break the
// analysis cycle.
func (e *RuleEngine) safeEvaluate(rule Rule, in Input) (triggered bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("rule_id", rule.ID).
				Interface("panic", r).
				Msg("Rule evaluation failed")
			triggered = false
		}
	}()
	return rule.Evaluate(in)
}

func sortEventsByTimestamp(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
