package sink

import (
	"context"
	"fmt"

	"github.com/maxpert/waljson/cfg"
	"github.com/maxpert/waljson/publisher"
	"github.com/segmentio/kafka-go"
)

// XidHeader carries the transaction ID of a unit on sinks with message headers
const XidHeader = "waljson-xid"

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 16 << 20 // transactions are published as one message
)

func init() {
	publisher.RegisterSink("kafka", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		kafkaConfig := DefaultKafkaConfig(config.Brokers)
		if config.BatchSize > 0 {
			kafkaConfig.BatchSize = config.BatchSize
		}
		return NewKafkaSink(kafkaConfig)
	})
}

// KafkaSink publishes every unit as one Kafka message. Units of the same
// transaction share a key and therefore a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string           // Kafka broker addresses
	BatchSize        int                // Messages per produce request
	BatchBytes       int64              // Max request size, must fit the largest transaction
	RequiredAcks     kafka.RequiredAcks // Ack requirement
	AutoCreateTopics bool               // Auto-create topics if they don't exist
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
	}
}

// NewKafkaSink creates a new KafkaSink with the given configuration
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes <= 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           config.RequiredAcks,
		Async:                  false,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaSink{writer: writer}, nil
}

// Publish writes one message and waits for the configured acks. Retries and
// shutdown are handled by the publisher worker, so no deadline is set here.
func (k *KafkaSink) Publish(topic, key string, value []byte) error {
	return k.writer.WriteMessages(context.Background(), kafkaMessage(topic, key, value))
}

func kafkaMessage(topic, key string, value []byte) kafka.Message {
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: XidHeader, Value: []byte(key)}},
	}
}

// Close flushes and releases the writer
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
