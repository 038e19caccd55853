// Package analysis drives the hybrid detection pipeline: a periodic task
// fans out feature assembly, rule evaluation, anomaly scoring, and fusion
// over every active tourist, persisting severity-graded incident alerts.
package analysis

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hit123esh/Smart-Tourist-Safety/configs"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/anomaly"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/detection"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/features"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/queue"
)

// ErrNoAggregatedRow is returned by on-demand analysis when the tourist has
// no row in the aggregation view (fewer than the minimum events in-window).
var ErrNoAggregatedRow = errors.New("no aggregated window for tourist")

// ErrRetrainInProgress is returned when another retraining run holds the lock.
var ErrRetrainInProgress = errors.New("retraining already in progress")

// EventStore is the read side of the Event Store consumed by the driver.
type EventStore interface {
	ReadAggregatedWindows(ctx context.Context) ([]models.AggregatedWindow, error)
	ReadRecentEvents(ctx context.Context, touristID string, windowMinutes int) ([]models.Event, error)
}

// AlertStore is the write side of the Event Store.
type AlertStore interface {
	Create(ctx context.Context, alert *models.IncidentAlert) error
}

// AlertPublisher fans persisted alerts out to a message bus. Optional.
type AlertPublisher interface {
	Publish(alert *models.IncidentAlert) error
}

// Report is the outcome of analyzing one tourist, returned by the on-demand
// path and used internally to build alerts.
type Report struct {
	TouristID  string                  `json:"tourist_id"`
	Features   models.FeatureVector    `json:"features"`
	RuleOutput models.RuleEngineOutput `json:"rule_output"`
	Fusion     models.FusionResult     `json:"fusion"`
}

// Driver owns the periodic analysis loop and the on-demand and retraining
// entry points. It is the explicit application context: every collaborator
// is injected at construction and its lifetime is tied to Run.
type Driver struct {
	events     EventStore
	alerts     AlertStore
	ruleEngine *detection.RuleEngine
	detector   *anomaly.Detector
	fuser      *detection.Fuser
	trainer    *anomaly.Trainer
	cache      *queue.CacheClient
	publisher  AlertPublisher
	cfg        configs.AnalysisConfig
	modelPath  string

	cycleRunning atomic.Bool
	inFlight     sync.WaitGroup
}

// NewDriver wires the pipeline together. cache and publisher may be nil.
func NewDriver(
	events EventStore,
	alerts AlertStore,
	ruleEngine *detection.RuleEngine,
	detector *anomaly.Detector,
	fuser *detection.Fuser,
	trainer *anomaly.Trainer,
	cache *queue.CacheClient,
	publisher AlertPublisher,
	cfg configs.AnalysisConfig,
	modelPath string,
) *Driver {
	return &Driver{
		events:     events,
		alerts:     alerts,
		ruleEngine: ruleEngine,
		detector:   detector,
		fuser:      fuser,
		trainer:    trainer,
		cache:      cache,
		publisher:  publisher,
		cfg:        cfg,
		modelPath:  modelPath,
	}
}

// Run executes analysis cycles on the configured interval until ctx is
// cancelled, then waits for in-flight work. If a cycle is still running when
// the timer fires, the new tick is dropped.
func (d *Driver) Run(ctx context.Context) {
	log.Info().
		Dur("interval", d.cfg.Interval).
		Int("concurrency", d.cfg.WorkerConcurrency).
		Msg("Analysis driver started")

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Analysis driver stopping")
			d.inFlight.Wait()
			log.Info().Msg("Analysis driver stopped")
			return
		case <-ticker.C:
			if !d.cycleRunning.CompareAndSwap(false, true) {
				log.Warn().Msg("Previous analysis cycle still running, tick dropped")
				continue
			}
			d.inFlight.Add(1)
			go func() {
				defer d.inFlight.Done()
				defer d.cycleRunning.Store(false)
				d.RunCycle(ctx)
			}()
		}
	}
}

// RunCycle analyzes every active tourist once. Per-tourist failures are
// contained; the cycle never fails as a whole.
func (d *Driver) RunCycle(ctx context.Context) {
	start := time.Now()

	windows, err := d.events.ReadAggregatedWindows(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read aggregated windows")
		return
	}
	if len(windows) == 0 {
		return
	}

	concurrency := d.cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var alertCount atomic.Int64
	work := make(chan models.AggregatedWindow)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range work {
				if d.analyzeAndPersist(ctx, &w) {
					alertCount.Add(1)
				}
			}
		}()
	}

	for _, w := range windows {
		if w.TouristID == "" {
			continue
		}
		work <- w
	}
	close(work)
	wg.Wait()

	log.Info().
		Int("tourists", len(windows)).
		Int64("alerts", alertCount.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("Analysis cycle complete")
}

// analyzeAndPersist runs the pipeline for one tourist and inserts an alert
// when the fusion decision says so. Returns true when an alert was written.
func (d *Driver) analyzeAndPersist(ctx context.Context, agg *models.AggregatedWindow) bool {
	report := d.analyze(ctx, agg)

	if d.cache != nil {
		if err := d.cache.SetAnalysisResult(ctx, agg.TouristID, &report.Fusion); err != nil {
			log.Warn().Err(err).Str("tourist_id", agg.TouristID).Msg("Failed to cache analysis result")
		}
	}

	if !report.Fusion.ShouldAlert {
		return false
	}

	alert := d.buildAlert(agg, report)
	if err := d.alerts.Create(ctx, alert); err != nil {
		log.Error().Err(err).Str("tourist_id", agg.TouristID).Msg("Failed to insert incident alert")
		return false
	}

	log.Info().
		Str("tourist_id", alert.TouristID).
		Str("severity", string(alert.Severity)).
		Float64("hybrid_score", alert.HybridScore).
		Msg("Alert inserted")

	if d.publisher != nil {
		if err := d.publisher.Publish(alert); err != nil {
			log.Warn().Err(err).Str("tourist_id", alert.TouristID).Msg("Failed to publish alert")
		}
	}
	return true
}

// analyze runs feature assembly, rules, anomaly scoring, and fusion for one
// tourist window.
func (d *Driver) analyze(ctx context.Context, agg *models.AggregatedWindow) Report {
	rawEvents, err := d.events.ReadRecentEvents(ctx, agg.TouristID, d.cfg.FeatureWindowMinutes)
	if err != nil {
		// Proceed with what is available; rules over raw events stay silent.
		log.Error().Err(err).Str("tourist_id", agg.TouristID).Msg("Failed to read raw events")
		rawEvents = nil
	}

	windowSeconds := float64(d.cfg.FeatureWindowMinutes) * 60
	featureVec := features.Enrich(agg, rawEvents, windowSeconds)

	latestZone := agg.LatestZoneState
	if latestZone == "" {
		latestZone = features.LatestZoneState(rawEvents)
	}

	ruleOutput := d.ruleEngine.Evaluate(detection.Input{
		Features:        featureVec,
		LatestZoneState: latestZone,
		Events:          rawEvents,
	})

	anomalyScore := d.detector.Predict(featureVec)
	fusion := d.fuser.Fuse(ruleOutput.RuleScore, anomalyScore)

	return Report{
		TouristID:  agg.TouristID,
		Features:   featureVec,
		RuleOutput: ruleOutput,
		Fusion:     fusion,
	}
}

// AnalyzeTourist runs the same pipeline on demand for one tourist and
// returns the report instead of persisting. ErrNoAggregatedRow when the
// tourist has no current aggregation row.
func (d *Driver) AnalyzeTourist(ctx context.Context, touristID string) (*Report, error) {
	windows, err := d.events.ReadAggregatedWindows(ctx)
	if err != nil {
		return nil, err
	}

	for i := range windows {
		if windows[i].TouristID == touristID {
			report := d.analyze(ctx, &windows[i])
			return &report, nil
		}
	}
	return nil, ErrNoAggregatedRow
}

// buildAlert converts a report into the persisted alert row, applying the
// rounding contract: scores to 4 decimals, feature values to 6.
func (d *Driver) buildAlert(agg *models.AggregatedWindow, report Report) *models.IncidentAlert {
	featureVec := make(map[string]float64, len(report.Features))
	for k, v := range report.Features {
		featureVec[k] = roundTo(v, 6)
	}

	return &models.IncidentAlert{
		TouristID:      agg.TouristID,
		Timestamp:      time.Now().UTC(),
		RuleScore:      roundTo(report.Fusion.RuleScore, 4),
		AnomalyScore:   roundTo(report.Fusion.AnomalyScore, 4),
		HybridScore:    roundTo(report.Fusion.HybridScore, 4),
		Severity:       report.Fusion.Severity,
		TriggeredRules: report.RuleOutput.TriggeredRules,
		FeatureVector:  featureVec,
		Latitude:       agg.LatestLatitude,
		Longitude:      agg.LatestLongitude,
		ZoneState:      agg.LatestZoneState,
		ModelVersion:   d.detector.ModelVersion(),
	}
}

// Retrain runs the training pipeline and reloads the detector on success.
// It is intended to be fired on a background goroutine; once started it runs
// to completion regardless of service shutdown. The Redis lock (when a cache
// is configured) keeps concurrent retraining runs from racing.
func (d *Driver) Retrain(opts anomaly.TrainOptions) (*anomaly.TrainingReport, error) {
	ctx := context.Background()

	if d.cache != nil {
		acquired, err := d.cache.AcquireRetrainLock(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to check retrain lock, proceeding without it")
		} else if !acquired {
			return nil, ErrRetrainInProgress
		} else {
			defer func() {
				if err := d.cache.ReleaseRetrainLock(ctx); err != nil {
					log.Warn().Err(err).Msg("Failed to release retrain lock")
				}
			}()
		}
	}

	if opts.OutputPath == "" {
		opts.OutputPath = d.modelPath
	}

	report, err := d.trainer.Train(ctx, opts)
	if err != nil {
		log.Error().Err(err).Msg("Retraining failed")
		return nil, err
	}

	d.detector.Reload()
	log.Info().
		Str("model_version", report.ModelVersion).
		Int("training_samples", report.TrainingSamples).
		Msg("Retraining complete, model reloaded")
	return report, nil
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
