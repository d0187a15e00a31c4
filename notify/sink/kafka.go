package sink

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/shopwise/listsync/cfg"
	"github.com/shopwise/listsync/encoding"
	"github.com/shopwise/listsync/notify"
)

func init() {
	notify.RegisterSink(cfg.SinkKafka, func(config cfg.NotificationConfiguration, deviceID string) (notify.Sink, error) {
		return NewKafkaSink(DefaultKafkaConfig(config.Brokers, config.Topic), deviceID)
	})
}

// KafkaSink writes intents to a compacted topic keyed by <device>/<tag>,
// so the latest intent per tag is the one consumers keep.
type KafkaSink struct {
	writer   *kafka.Writer
	topic    string
	deviceID string
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string
	Topic            string
	RequiredAcks     kafka.RequiredAcks
	AutoCreateTopics bool
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string, topic string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		Topic:            topic,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
	}
}

// NewKafkaSink creates a new KafkaSink
func NewKafkaSink(config KafkaConfig, deviceID string) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           config.RequiredAcks,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaSink{writer: writer, topic: config.Topic, deviceID: deviceID}, nil
}

// MessageKey returns the compaction key for an intent
func (k *KafkaSink) MessageKey(intent notify.Intent) string {
	return k.deviceID + "/" + intent.Tag
}

// Send writes the intent synchronously
func (k *KafkaSink) Send(ctx context.Context, intent notify.Intent) error {
	value, err := encoding.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to encode intent: %w", err)
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(k.MessageKey(intent)),
		Value: value,
	})
}

// CoalescesByTag is always true
func (k *KafkaSink) CoalescesByTag() bool {
	return true
}

// Close releases resources held by the KafkaSink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
