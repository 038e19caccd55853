package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

var (
	ErrAlertNotFound = errors.New("incident alert not found")
)

// AlertRepository writes and mutates incident_alerts rows.
type AlertRepository struct {
	db *Database
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *Database) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts one incident alert. Insertion is at-most-once: a failed
// insert is reported to the caller and the alert is dropped.
func (r *AlertRepository) Create(ctx context.Context, alert *models.IncidentAlert) error {
	query := `
		INSERT INTO incident_alerts (
			id, tourist_id, timestamp, rule_score, anomaly_score, hybrid_score,
			severity, triggered_rules, feature_vector, latitude, longitude,
			zone_state, model_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}

	featureBytes, err := json.Marshal(alert.FeatureVector)
	if err != nil {
		return fmt.Errorf("failed to encode feature vector: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, query,
		alert.ID,
		alert.TouristID,
		alert.Timestamp,
		alert.RuleScore,
		alert.AnomalyScore,
		alert.HybridScore,
		string(alert.Severity),
		pq.Array(alert.TriggeredRules),
		featureBytes,
		alert.Latitude,
		alert.Longitude,
		alert.ZoneState,
		alert.ModelVersion,
	)
	return err
}

// Acknowledge marks an alert as acknowledged by an officer.
func (r *AlertRepository) Acknowledge(ctx context.Context, alertID uuid.UUID, officerID string) error {
	query := `
		UPDATE incident_alerts
		SET acknowledged = true, acknowledged_by = $2, acknowledged_at = $3
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, alertID, officerID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// Resolve marks an alert as resolved.
func (r *AlertRepository) Resolve(ctx context.Context, alertID uuid.UUID) error {
	query := `UPDATE incident_alerts SET resolved = true WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, alertID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}
