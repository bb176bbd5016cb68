package analytics

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/charmbracelet/log"
)

// Publisher emits completed hands to the analytics pipeline.
type Publisher interface {
	PublishHand(summary HandSummary) error
	Close() error
}

// Nop is the publisher used when the pipeline is disabled.
type Nop struct{}

func (Nop) PublishHand(HandSummary) error { return nil }
func (Nop) Close() error                  { return nil }

// Kafka publishes hand summaries as JSON, keyed by game id so one game's
// hands land on one partition in order.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	logger   *log.Logger
}

// NewKafka connects a synchronous producer to the brokers.
func NewKafka(brokers []string, topic string, logger *log.Logger) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true // required for SyncProducer
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("analytics: connect kafka: %w", err)
	}
	return &Kafka{
		producer: producer,
		topic:    topic,
		logger:   logger.WithPrefix("analytics"),
	}, nil
}

func (k *Kafka) PublishHand(summary HandSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("analytics: marshal hand: %w", err)
	}
	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(summary.GameID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("analytics: publish hand %s/%d: %w", summary.GameID, summary.HandIndex, err)
	}
	k.logger.Debug("published hand",
		"game_id", summary.GameID,
		"hand", summary.HandIndex,
		"partition", partition,
		"offset", offset)
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}
