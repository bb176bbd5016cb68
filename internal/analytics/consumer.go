package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/charmbracelet/log"
)

const (
	defaultBatchSize  = 200
	defaultFlushEvery = 5 * time.Second
)

// Consumer drains the hand topic into the ClickHouse sink. Offsets are
// marked only after a successful flush, so delivery is at-least-once.
type Consumer struct {
	group  sarama.ConsumerGroup
	topic  string
	sink   *ClickHouse
	logger *log.Logger
}

// NewConsumer joins the consumer group on the brokers.
func NewConsumer(brokers []string, groupID, topic string, sink *ClickHouse, logger *log.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("analytics: join consumer group: %w", err)
	}
	return &Consumer{
		group:  group,
		topic:  topic,
		sink:   sink,
		logger: logger.WithPrefix("analytics"),
	}, nil
}

// Run consumes until the context is canceled. Consume returns on every
// rebalance, so it loops.
func (c *Consumer) Run(ctx context.Context) error {
	handler := &batchHandler{sink: c.sink, logger: c.logger}
	for {
		err := c.group.Consume(ctx, []string{c.topic}, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
			c.logger.Error("consume session failed", "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

// batchHandler buffers messages per claimed partition and flushes by size
// or age. ConsumeClaim runs concurrently per partition, so all buffering
// state is claim-local.
type batchHandler struct {
	sink   *ClickHouse
	logger *log.Logger
}

func (h *batchHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *batchHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *batchHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	var (
		pending []HandSummary
		last    *sarama.ConsumerMessage
	)
	ticker := time.NewTicker(defaultFlushEvery)
	defer ticker.Stop()

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := h.sink.InsertHands(sess.Context(), pending); err != nil {
			return err
		}
		sess.MarkMessage(last, "")
		pending = pending[:0]
		return nil
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			var summary HandSummary
			if err := json.Unmarshal(msg.Value, &summary); err != nil {
				h.logger.Warn("dropping undecodable message",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
				sess.MarkMessage(msg, "")
				continue
			}
			pending = append(pending, summary)
			last = msg
			if len(pending) >= defaultBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case <-sess.Context().Done():
			return flush()
		}
	}
}
