package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hit123esh/Smart-Tourist-Safety/configs"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/anomaly"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/repositories"
)

func main() {
	days := flag.Int("days", anomaly.DefaultTrainingDays, "number of days of historical data to use")
	estimators := flag.Int("estimators", anomaly.DefaultEstimators, "number of isolation trees")
	contamination := flag.Float64("contamination", anomaly.DefaultContamination, "expected anomaly fraction in training data")
	version := flag.String("version", "v1", "model version string")
	output := flag.String("output", "", "output path for the model bundle (defaults to MODEL_PATH)")
	flag.Parse()

	_ = godotenv.Load()

	cfg := configs.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	db, err := repositories.NewDatabase(cfg.Supabase)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Event Store")
	}
	defer db.Close()

	outputPath := *output
	if outputPath == "" {
		outputPath = cfg.Model.Path
	}

	trainer := anomaly.NewTrainer(repositories.NewEventRepository(db))

	report, err := trainer.Train(context.Background(), anomaly.TrainOptions{
		Days:          *days,
		Estimators:    *estimators,
		Contamination: *contamination,
		Version:       *version,
		OutputPath:    outputPath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}

	log.Info().
		Str("model_version", report.ModelVersion).
		Int("training_samples", report.TrainingSamples).
		Float64("threshold", report.Threshold).
		Str("output_path", report.OutputPath).
		Msg("Training complete")
}
