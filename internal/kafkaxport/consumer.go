// Package kafkaxport is a supplemental ingestion transport: it decodes the
// same envelope JSON the batch pipeline expects from a Kafka topic rather
// than a queue-triggered invocation, for worker topologies that want a
// long-lived consumer. Adapted from the teacher's kafka.Consumer
// throughput/error-rate loop.
package kafkaxport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/panther-labs/rules-engine/internal/dispatch"
)

// ConsumerConfig mirrors the teacher's kafka.ConsumerConfig.
type ConsumerConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// DefaultConsumerConfig matches the teacher's tuning defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		GroupID:  "rules-engine",
		MinBytes: 10e3,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	}
}

// Consumer reads envelope messages off a Kafka topic and hands each one to
// a Dispatcher, logging throughput and error rate the way the teacher's
// kafka.Consumer.Start loop does.
type Consumer struct {
	reader     *kafka.Reader
	dispatcher *dispatch.Dispatcher

	processed int64
	failed    int64
}

func NewConsumer(cfg ConsumerConfig, dispatcher *dispatch.Dispatcher) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{reader: reader, dispatcher: dispatcher}
}

// Start runs until ctx is cancelled, logging a throughput/error-rate line
// every 100 messages the same way the teacher's Consumer.Start does.
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("starting kafka ingestion consumer for topic: %s", c.reader.Config().Topic)

	for {
		select {
		case <-ctx.Done():
			log.Println("kafka ingestion consumer shutting down")
			return ctx.Err()
		default:
		}

		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.failed++
			log.Printf("error reading kafka message: %v", err)
			continue
		}

		if _, err := c.dispatcher.Dispatch(ctx, json.RawMessage(msg.Value)); err != nil {
			c.failed++
			log.Printf("error dispatching envelope from kafka: %v", err)
			continue
		}
		c.processed++

		if (c.processed+c.failed)%100 == 0 {
			total := c.processed + c.failed
			log.Printf("kafka ingestion: processed=%d failed=%d error_rate=%.2f%%",
				c.processed, c.failed, float64(c.failed)/float64(total)*100)
		}
	}
}

// HealthCheck reports false once the failure rate crosses 10%, mirroring
// the teacher's threshold.
func (c *Consumer) HealthCheck() bool {
	total := c.processed + c.failed
	if total == 0 {
		return true
	}
	return float64(c.failed)/float64(total) <= 0.1
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
