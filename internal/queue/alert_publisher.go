package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/hit123esh/Smart-Tourist-Safety/configs"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

// AlertPublisher fans persisted incident alerts out to a Kafka topic for
// downstream consumers (dashboards, notification services). Publishing is
// best-effort: the alert row in the Event Store is the source of truth.
type AlertPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewAlertPublisher connects a producer to the configured brokers.
func NewAlertPublisher(cfg configs.KafkaConfig) (*AlertPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true

	brokers := strings.Split(cfg.Brokers, ",")
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info().Strs("brokers", brokers).Str("topic", cfg.AlertTopic).Msg("Kafka alert publisher initialized")
	return &AlertPublisher{producer: producer, topic: cfg.AlertTopic}, nil
}

// Publish sends one alert to the topic, keyed by tourist so per-tourist
// ordering is preserved within a partition.
func (p *AlertPublisher) Publish(alert *models.IncidentAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(alert.TouristID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	log.Debug().
		Str("tourist_id", alert.TouristID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Alert published to Kafka")
	return nil
}

// Close shuts the producer down.
func (p *AlertPublisher) Close() error {
	return p.producer.Close()
}
