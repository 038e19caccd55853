package repositories

import (
	"context"
	"fmt"

	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

// EventRepository reads tourist events and the 2-minute aggregation view.
type EventRepository struct {
	db *Database
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *Database) *EventRepository {
	return &EventRepository{db: db}
}

// ReadAggregatedWindows returns one row per active tourist from the
// feature_agg_2min view. The view enforces the minimum-events filter.
func (r *EventRepository) ReadAggregatedWindows(ctx context.Context) ([]models.AggregatedWindow, error) {
	query := `
		SELECT tourist_id,
			   COALESCE(event_count, 0),
			   COALESCE(unique_zones, 0),
			   COALESCE(danger_ratio, 0),
			   COALESCE(caution_ratio, 0),
			   COALESCE(panic_count, 0),
			   COALESCE(zone_transitions, 0),
			   COALESCE(max_risk_timer, 0),
			   COALESCE(avg_risk_timer, 0),
			   COALESCE(lat_std, 0),
			   COALESCE(lng_std, 0),
			   COALESCE(latest_zone_state, ''),
			   latest_latitude,
			   latest_longitude
		FROM feature_agg_2min
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature_agg_2min: %w", err)
	}
	defer rows.Close()

	var windows []models.AggregatedWindow
	for rows.Next() {
		var w models.AggregatedWindow
		if err := rows.Scan(
			&w.TouristID,
			&w.EventCount,
			&w.UniqueZones,
			&w.DangerRatio,
			&w.CautionRatio,
			&w.PanicCount,
			&w.ZoneTransitions,
			&w.MaxRiskTimer,
			&w.AvgRiskTimer,
			&w.LatStd,
			&w.LngStd,
			&w.LatestZoneState,
			&w.LatestLatitude,
			&w.LatestLongitude,
		); err != nil {
			return nil, fmt.Errorf("failed to scan aggregated window: %w", err)
		}
		windows = append(windows, w)
	}

	return windows, rows.Err()
}

// ReadRecentEvents fetches one tourist's raw events over the last
// windowMinutes, ascending by timestamp.
func (r *EventRepository) ReadRecentEvents(ctx context.Context, touristID string, windowMinutes int) ([]models.Event, error) {
	query := `
		SELECT tourist_id, timestamp, zone_state, event_type,
			   COALESCE(risk_timer_value, 0), latitude, longitude,
			   COALESCE(simulation_mode, '')
		FROM tourist_events
		WHERE tourist_id = $1
		  AND timestamp >= NOW() - ($2 * INTERVAL '1 minute')
		ORDER BY timestamp ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, touristID, windowMinutes)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for tourist %s: %w", touristID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReadSafeTrainingEvents fetches up to limit SAFE-simulation events from the
// last days days, ascending by timestamp. Used for model training.
func (r *EventRepository) ReadSafeTrainingEvents(ctx context.Context, days, limit int) ([]models.Event, error) {
	query := `
		SELECT tourist_id, timestamp, zone_state, event_type,
			   COALESCE(risk_timer_value, 0), latitude, longitude,
			   COALESCE(simulation_mode, '')
		FROM tourist_events
		WHERE simulation_mode = $1
		  AND timestamp >= NOW() - ($2 * INTERVAL '1 day')
		ORDER BY timestamp ASC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, models.SimulationModeSafe, days, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query training events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows pgxRows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(
			&e.TouristID,
			&e.Timestamp,
			&e.ZoneState,
			&e.EventType,
			&e.RiskTimerValue,
			&e.Latitude,
			&e.Longitude,
			&e.SimulationMode,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
