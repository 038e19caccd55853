package anomaly

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hit123esh/Smart-Tourist-Safety/internal/features"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

// sigmoidSteepness controls how sharply raw decision scores map onto [0,1].
const sigmoidSteepness = 5.0

// ScoreStats summarizes the training-set decision scores for diagnostics.
type ScoreStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	P5   float64 `json:"p5"`
}

// ModelBundle is the persisted artifact produced by training: the estimator
// plus its calibration and provenance metadata. Bundles are never mutated in
// place; replacement is atomic from the consumer's viewpoint.
type ModelBundle struct {
	Model           *IsolationForest `json:"model"`
	Threshold       float64          `json:"threshold"`
	FeatureColumns  []string         `json:"feature_columns"`
	ModelVersion    string           `json:"model_version"`
	TrainingSamples int              `json:"training_samples"`
	TrainedAt       time.Time        `json:"trained_at"`
	Contamination   float64          `json:"contamination"`
	Estimators      int              `json:"n_estimators"`
	ScoreStats      ScoreStats       `json:"score_stats"`
}

// SaveBundle writes the bundle to path atomically (temp file + rename),
// creating the parent directory if absent.
func SaveBundle(bundle *ModelBundle, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to encode model bundle: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bundle-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp bundle: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write model bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp bundle: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to publish model bundle: %w", err)
	}
	return nil
}

// LoadBundle reads and decodes a bundle from disk.
func LoadBundle(path string) (*ModelBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bundle ModelBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode model bundle: %w", err)
	}
	if bundle.Model == nil {
		return nil, fmt.Errorf("model bundle has no estimator")
	}
	if len(bundle.FeatureColumns) == 0 {
		bundle.FeatureColumns = features.FeatureColumns
	}
	return &bundle, nil
}

// Detector serves anomaly scores from the current model bundle. Predictions
// observe either the old or the new bundle across a reload, never a torn
// state. With no bundle loaded it degrades gracefully: every prediction is 0
// and the pipeline runs rules-only.
type Detector struct {
	mu        sync.RWMutex
	bundle    *ModelBundle
	modelPath string
}

// NewDetector creates a detector and attempts an initial load. A missing or
// corrupt bundle leaves the detector unloaded; it is not an error.
func NewDetector(modelPath string) *Detector {
	d := &Detector{modelPath: modelPath}
	d.Load(modelPath)
	return d
}

// Load reads and publishes the bundle at path. Returns false when the file
// is missing or unreadable; an already-loaded bundle is kept in that case.
func (d *Detector) Load(path string) bool {
	bundle, err := LoadBundle(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("Model file not found, running in rules-only mode")
		} else {
			log.Error().Err(err).Str("path", path).Msg("Failed to load model bundle")
		}
		return false
	}

	d.mu.Lock()
	d.bundle = bundle
	d.modelPath = path
	d.mu.Unlock()

	log.Info().
		Str("model_version", bundle.ModelVersion).
		Int("training_samples", bundle.TrainingSamples).
		Float64("threshold", bundle.Threshold).
		Msg("Model loaded")
	return true
}

// Reload re-loads the bundle from the remembered path.
func (d *Detector) Reload() bool {
	d.mu.RLock()
	path := d.modelPath
	d.mu.RUnlock()
	return d.Load(path)
}

// IsLoaded reports whether a bundle is currently published.
func (d *Detector) IsLoaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bundle != nil
}

// Bundle returns the current bundle, or nil when unloaded.
func (d *Detector) Bundle() *ModelBundle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bundle
}

// ModelVersion returns the loaded bundle's version, or "none".
func (d *Detector) ModelVersion() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.bundle == nil {
		return "none"
	}
	return d.bundle.ModelVersion
}

// Predict returns the normalized anomaly score in [0,1] for one feature
// vector; higher = more anomalous. Returns exactly 0 when unloaded.
func (d *Detector) Predict(f models.FeatureVector) float64 {
	d.mu.RLock()
	bundle := d.bundle
	d.mu.RUnlock()

	if bundle == nil {
		return 0.0
	}

	x := make([]float64, len(bundle.FeatureColumns))
	for i, col := range bundle.FeatureColumns {
		x[i] = f.Get(col)
	}

	raw := bundle.Model.DecisionFunction(x)
	normalized := sigmoidNormalize(raw)

	log.Debug().
		Float64("raw_score", raw).
		Float64("normalized", normalized).
		Float64("threshold", bundle.Threshold).
		Msg("Anomaly score computed")
	return normalized
}

// PredictBatch maps the same normalization over a row-major matrix whose
// columns follow the bundle's feature ordering. Unloaded yields a zero
// vector.
func (d *Detector) PredictBatch(matrix [][]float64) []float64 {
	d.mu.RLock()
	bundle := d.bundle
	d.mu.RUnlock()

	scores := make([]float64, len(matrix))
	if bundle == nil {
		return scores
	}
	for i, raw := range bundle.Model.DecisionFunctionBatch(matrix) {
		scores[i] = sigmoidNormalize(raw)
	}
	return scores
}

// sigmoidNormalize maps a decision-function score (positive = inlier) to an
// anomaly probability in [0,1] where higher = more anomalous.
func sigmoidNormalize(raw float64) float64 {
	v := 1.0 / (1.0 + math.Exp(sigmoidSteepness*raw))
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
