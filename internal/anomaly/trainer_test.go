package anomaly

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hit123esh/Smart-Tourist-Safety/internal/features"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

type fakeEventSource struct {
	events []models.Event
	err    error
}

func (s *fakeEventSource) ReadSafeTrainingEvents(ctx context.Context, days, limit int) ([]models.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

func safeEvents(tourists, perTourist int) []models.Event {
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	var events []models.Event
	for ti := 0; ti < tourists; ti++ {
		id := string(rune('a' + ti))
		for i := 0; i < perTourist; i++ {
			lat := 10.0 + float64(i)*0.0001
			lng := 20.0 + float64(ti)*0.001
			events = append(events, models.Event{
				TouristID:      "tourist-" + id,
				Timestamp:      t0.Add(time.Duration(i) * 15 * time.Second),
				ZoneState:      models.ZoneSafe,
				EventType:      models.EventMove,
				Latitude:       &lat,
				Longitude:      &lng,
				SimulationMode: models.SimulationModeSafe,
			})
		}
	}
	return events
}

func TestTrainProducesLoadableBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "forest.json")
	trainer := NewTrainer(&fakeEventSource{events: safeEvents(3, 40)})

	report, err := trainer.Train(context.Background(), TrainOptions{
		Estimators: 30,
		Version:    "v-train-test",
		OutputPath: path,
	})
	require.NoError(t, err)

	assert.Equal(t, "v-train-test", report.ModelVersion)
	assert.GreaterOrEqual(t, report.TrainingSamples, minTrainingWindows)
	assert.Equal(t, path, report.OutputPath)

	bundle, err := LoadBundle(path)
	require.NoError(t, err)
	assert.Equal(t, "v-train-test", bundle.ModelVersion)
	assert.Equal(t, features.FeatureColumns, bundle.FeatureColumns)
	assert.Equal(t, report.Threshold, bundle.Threshold)
	assert.Equal(t, report.TrainingSamples, bundle.TrainingSamples)
	assert.Equal(t, 30, bundle.Estimators)
	assert.False(t, bundle.TrainedAt.IsZero())
}

func TestTrainInsufficientEvents(t *testing.T) {
	trainer := NewTrainer(&fakeEventSource{})

	_, err := trainer.Train(context.Background(), TrainOptions{OutputPath: filepath.Join(t.TempDir(), "m.json")})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestTrainInsufficientWindows(t *testing.T) {
	// A single tourist with two events can never produce ten windows.
	trainer := NewTrainer(&fakeEventSource{events: safeEvents(1, 2)})

	_, err := trainer.Train(context.Background(), TrainOptions{OutputPath: filepath.Join(t.TempDir(), "m.json")})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestTrainSourceFailure(t *testing.T) {
	trainer := NewTrainer(&fakeEventSource{err: errors.New("connection refused")})

	_, err := trainer.Train(context.Background(), TrainOptions{OutputPath: filepath.Join(t.TempDir(), "m.json")})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientData)
}

func TestTrainFailureLeavesExistingBundleIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forest.json")
	require.NoError(t, SaveBundle(testBundle(t), path))

	trainer := NewTrainer(&fakeEventSource{events: safeEvents(1, 2)})
	_, err := trainer.Train(context.Background(), TrainOptions{OutputPath: path})
	require.ErrorIs(t, err, ErrInsufficientData)

	bundle, err := LoadBundle(path)
	require.NoError(t, err)
	assert.Equal(t, "v-test", bundle.ModelVersion)
}

func TestTrainDeterministicThreshold(t *testing.T) {
	events := safeEvents(2, 50)
	dir := t.TempDir()

	r1, err := NewTrainer(&fakeEventSource{events: events}).Train(context.Background(),
		TrainOptions{Estimators: 25, OutputPath: filepath.Join(dir, "m1.json")})
	require.NoError(t, err)

	r2, err := NewTrainer(&fakeEventSource{events: events}).Train(context.Background(),
		TrainOptions{Estimators: 25, OutputPath: filepath.Join(dir, "m2.json")})
	require.NoError(t, err)

	assert.Equal(t, r1.Threshold, r2.Threshold)
}
