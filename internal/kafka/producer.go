package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lvdashuaibi/evermark-sync/config"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes cache change events to the update topic.
type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

func NewProducer(ctx context.Context, cfg config.KafkaConfig, logger *zap.Logger) (*Producer, error) {
	logger = logger.With(zap.String("component", "kafka_producer"))

	partitions, err := topicPartitions(ctx, cfg.Brokers[0], cfg.UpdateTopic)
	if err != nil {
		return nil, fmt.Errorf("read partitions for topic %s: %w", cfg.UpdateTopic, err)
	}
	logger.Info("update topic ready", zap.String("topic", cfg.UpdateTopic), zap.Int("partitions", len(partitions)))

	// Hash balancer keeps every event for one evermark on one partition, in order.
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.UpdateTopic,
		Balancer: &kafka.Hash{},
	}
	return newProducer(writer, logger), nil
}

func newProducer(w messageWriter, logger *zap.Logger) *Producer {
	return &Producer{writer: w, logger: logger}
}

// Notify publishes ev keyed by evermark id (cycle number for cycle events).
func (p *Producer) Notify(ctx context.Context, ev model.CacheUpdateEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode cache update: %w", err)
	}

	key := ev.EvermarkID
	if key == "" {
		key = fmt.Sprintf("cycle:%d", ev.CycleNumber)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish cache update: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// topicPartitions lists the partition ids of topic as seen by broker.
func topicPartitions(ctx context.Context, broker, topic string) ([]int, error) {
	conn, err := kafka.DialLeader(ctx, "tcp", broker, topic, 0)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, p := range partitions {
		if p.Topic == topic {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}
