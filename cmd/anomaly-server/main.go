package main

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hit123esh/Smart-Tourist-Safety/configs"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/analysis"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/anomaly"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/auth"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/detection"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/queue"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/repositories"
)

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()

	setupLogging(cfg.Server.Environment, cfg.Server.LogLevel)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting tourist-safety anomaly detection service")

	// Event Store
	db, err := repositories.NewDatabase(cfg.Supabase)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Event Store")
	}
	defer db.Close()

	eventRepo := repositories.NewEventRepository(db)
	alertRepo := repositories.NewAlertRepository(db)

	// Detection pipeline
	detector := anomaly.NewDetector(cfg.Model.Path)
	ruleEngine := detection.NewRuleEngine()
	fuser := detection.NewFuser(
		cfg.Analysis.RuleWeight,
		cfg.Analysis.MLWeight,
		models.ParseSeverity(cfg.Analysis.AlertSeverityThreshold),
	)
	trainer := anomaly.NewTrainer(eventRepo)

	// Optional Redis cache
	var cache *queue.CacheClient
	if cfg.Redis.URL != "" {
		cache, err = queue.NewCacheClient(cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, running without cache")
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	// Optional Kafka alert fan-out
	var publisher analysis.AlertPublisher
	if cfg.Kafka.Brokers != "" {
		kafkaPublisher, err := queue.NewAlertPublisher(cfg.Kafka)
		if err != nil {
			log.Warn().Err(err).Msg("Kafka unavailable, alerts will not be published")
		} else {
			defer kafkaPublisher.Close()
			publisher = kafkaPublisher
		}
	}

	driver := analysis.NewDriver(
		eventRepo, alertRepo, ruleEngine, detector, fuser, trainer,
		cache, publisher, cfg.Analysis, cfg.Model.Path,
	)

	// Periodic analysis loop
	driverCtx, stopDriver := context.WithCancel(context.Background())
	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		driver.Run(driverCtx)
	}()

	// HTTP surface
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	var jwtManager *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret)
	} else {
		log.Warn().Msg("JWT_SECRET not set, mutating endpoints are unauthenticated")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	setupRoutes(router, jwtManager, driver, detector, alertRepo, cfg)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the scheduler first so in-flight analyses drain before the
	// Event Store closes.
	stopDriver()
	<-driverDone

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Service exited")
}

func setupLogging(env, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(logLevel)
}

func setupRoutes(
	router *gin.Engine,
	jwtManager *auth.JWTManager,
	driver *analysis.Driver,
	detector *anomaly.Detector,
	alertRepo *repositories.AlertRepository,
	cfg *configs.Config,
) {
	router.GET("/health", healthHandler(detector, cfg))
	router.POST("/analyze/:tourist_id", analyzeHandler(driver))
	router.GET("/model/info", modelInfoHandler(detector))

	protected := router.Group("")
	protected.Use(auth.Middleware(jwtManager))
	{
		protected.POST("/retrain", retrainHandler(driver))
		protected.POST("/alerts/:id/acknowledge", acknowledgeAlertHandler(alertRepo))
		protected.POST("/alerts/:id/resolve", resolveAlertHandler(alertRepo))
	}
}

func healthHandler(detector *anomaly.Detector, cfg *configs.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"model_loaded":      detector.IsLoaded(),
			"model_version":     detector.ModelVersion(),
			"analysis_interval": int(cfg.Analysis.Interval.Seconds()),
			"timestamp":         time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func analyzeHandler(driver *analysis.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if driver == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not initialised"})
			return
		}

		touristID := c.Param("tourist_id")
		report, err := driver.AnalyzeTourist(c.Request.Context(), touristID)
		if err != nil {
			if errors.Is(err, analysis.ErrNoAggregatedRow) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "no recent activity for tourist " + touristID,
				})
				return
			}
			log.Error().Err(err).Str("tourist_id", touristID).Msg("On-demand analysis failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
			return
		}

		features := make(map[string]float64, len(report.Features))
		for k, v := range report.Features {
			features[k] = roundTo(v, 6)
		}

		c.JSON(http.StatusOK, gin.H{
			"tourist_id":      report.TouristID,
			"features":        features,
			"rule_score":      roundTo(report.Fusion.RuleScore, 4),
			"anomaly_score":   roundTo(report.Fusion.AnomalyScore, 4),
			"hybrid_score":    roundTo(report.Fusion.HybridScore, 4),
			"severity":        report.Fusion.Severity,
			"triggered_rules": report.RuleOutput.TriggeredRules,
			"concordance":     report.Fusion.Concordance,
			"should_alert":    report.Fusion.ShouldAlert,
		})
	}
}

func retrainHandler(driver *analysis.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := uuid.New()

		go func() {
			if _, err := driver.Retrain(anomaly.TrainOptions{}); err != nil {
				log.Error().Err(err).Str("job_id", jobID.String()).Msg("Background retraining failed")
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{
			"status":  "retraining_started",
			"job_id":  jobID.String(),
			"message": "model retraining initiated in background",
		})
	}
}

func modelInfoHandler(detector *anomaly.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		bundle := detector.Bundle()
		if bundle == nil {
			c.JSON(http.StatusOK, gin.H{
				"status":  "no_model",
				"message": "no model loaded, running in rules-only mode",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"model_version":    bundle.ModelVersion,
			"training_samples": bundle.TrainingSamples,
			"threshold":        bundle.Threshold,
			"feature_columns":  bundle.FeatureColumns,
			"trained_at":       bundle.TrainedAt.Format(time.RFC3339),
			"score_stats":      bundle.ScoreStats,
		})
	}
}

type acknowledgeRequest struct {
	OfficerID string `json:"officer_id" binding:"required"`
}

func acknowledgeAlertHandler(alertRepo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		alertID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		var req acknowledgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			// Prefer the authenticated officer when the body omits one.
			req.OfficerID = c.GetString(auth.OfficerIDKey)
		}
		if req.OfficerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "officer_id required"})
			return
		}

		if err := alertRepo.Acknowledge(c.Request.Context(), alertID, req.OfficerID); err != nil {
			if errors.Is(err, repositories.ErrAlertNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
				return
			}
			log.Error().Err(err).Str("alert_id", alertID.String()).Msg("Failed to acknowledge alert")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acknowledge alert"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
	}
}

func resolveAlertHandler(alertRepo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		alertID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		if err := alertRepo.Resolve(c.Request.Context(), alertID); err != nil {
			if errors.Is(err, repositories.ErrAlertNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
				return
			}
			log.Error().Err(err).Str("alert_id", alertID.String()).Msg("Failed to resolve alert")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve alert"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "resolved"})
	}
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		status := c.Writer.Status()
		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		}
		evt.
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
