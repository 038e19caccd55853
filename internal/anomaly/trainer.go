package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/hit123esh/Smart-Tourist-Safety/internal/features"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

// ErrInsufficientData is returned when too few feature windows exist to fit
// a meaningful model. The current bundle on disk is left untouched.
var ErrInsufficientData = errors.New("insufficient training data")

// minTrainingWindows is the minimum feature-window count for a fit.
const minTrainingWindows = 10

// Default training data bounds.
const (
	DefaultTrainingDays  = 7
	DefaultTrainingLimit = 50000
)

// TrainingEventSource provides historical SAFE-mode events.
type TrainingEventSource interface {
	ReadSafeTrainingEvents(ctx context.Context, days, limit int) ([]models.Event, error)
}

// TrainOptions configures one training run.
type TrainOptions struct {
	Days          int
	Limit         int
	Estimators    int
	Contamination float64
	Version       string
	OutputPath    string
}

// TrainingReport summarizes a completed training run.
type TrainingReport struct {
	ModelVersion    string  `json:"model_version"`
	TrainingSamples int     `json:"training_samples"`
	Threshold       float64 `json:"threshold"`
	OutputPath      string  `json:"output_path"`
}

// Trainer runs the offline training pipeline: fetch SAFE-mode events, build
// the feature matrix, fit the forest, calibrate the threshold, and publish
// the bundle atomically.
type Trainer struct {
	source TrainingEventSource
}

// NewTrainer creates a trainer reading from the given event source.
func NewTrainer(source TrainingEventSource) *Trainer {
	return &Trainer{source: source}
}

// Train executes the full pipeline and writes the bundle to
// opts.OutputPath. Failures never corrupt an existing bundle on disk.
func (t *Trainer) Train(ctx context.Context, opts TrainOptions) (*TrainingReport, error) {
	if opts.Days <= 0 {
		opts.Days = DefaultTrainingDays
	}
	if opts.Limit <= 0 || opts.Limit > DefaultTrainingLimit {
		opts.Limit = DefaultTrainingLimit
	}
	if opts.Estimators <= 0 {
		opts.Estimators = DefaultEstimators
	}
	if opts.Contamination <= 0 {
		opts.Contamination = DefaultContamination
	}
	if opts.Version == "" {
		opts.Version = "v1"
	}

	events, err := t.source.ReadSafeTrainingEvents(ctx, opts.Days, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch training data: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no SAFE-mode events in the last %d days", ErrInsufficientData, opts.Days)
	}
	log.Info().Int("events", len(events)).Int("days", opts.Days).Msg("Fetched training events")

	windows := features.BuildTrainingMatrix(events, features.DefaultWindowSeconds, features.DefaultStrideSeconds)
	if len(windows) < minTrainingWindows {
		return nil, fmt.Errorf("%w: only %d feature windows, need at least %d",
			ErrInsufficientData, len(windows), minTrainingWindows)
	}
	log.Info().Int("windows", len(windows)).Msg("Built training feature matrix")

	matrix := make([][]float64, len(windows))
	for i, w := range windows {
		row := make([]float64, len(features.FeatureColumns))
		for j, col := range features.FeatureColumns {
			row[j] = w.Features.Get(col)
		}
		matrix[i] = row
	}

	forest := Fit(matrix, FitOptions{
		Estimators:    opts.Estimators,
		Contamination: opts.Contamination,
		Seed:          DefaultSeed,
	})

	scores := forest.DecisionFunctionBatch(matrix)
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	threshold := stat.Quantile(0.05, stat.Empirical, sorted, nil)
	mean, std := stat.MeanStdDev(scores, nil)

	bundle := &ModelBundle{
		Model:           forest,
		Threshold:       threshold,
		FeatureColumns:  features.FeatureColumns,
		ModelVersion:    opts.Version,
		TrainingSamples: len(matrix),
		TrainedAt:       time.Now().UTC(),
		Contamination:   opts.Contamination,
		Estimators:      opts.Estimators,
		ScoreStats: ScoreStats{
			Mean: mean,
			Std:  std,
			Min:  sorted[0],
			Max:  sorted[len(sorted)-1],
			P5:   threshold,
		},
	}

	if err := SaveBundle(bundle, opts.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to save model bundle: %w", err)
	}

	log.Info().
		Str("model_version", opts.Version).
		Int("training_samples", len(matrix)).
		Float64("threshold", threshold).
		Str("output_path", opts.OutputPath).
		Msg("Model trained and saved")

	return &TrainingReport{
		ModelVersion:    opts.Version,
		TrainingSamples: len(matrix),
		Threshold:       threshold,
		OutputPath:      opts.OutputPath,
	}, nil
}
