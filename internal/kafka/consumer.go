package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lvdashuaibi/evermark-sync/config"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler ingests one vote_cast payload.
type MessageHandler func(ctx context.Context, p *model.VoteCastPayload) error

// IsRejected reports whether a handler error means the payload itself is bad.
type IsRejected func(err error) bool

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads vote_cast payloads from the vote topic with one reader per
// worker, all in the same consumer group.
type Consumer struct {
	readers  []messageReader
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	rejected IsRejected
	logger   *zap.Logger
}

func NewConsumer(ctx context.Context, cfg config.KafkaConfig, rejected IsRejected, logger *zap.Logger) (*Consumer, error) {
	logger = logger.With(zap.String("component", "kafka_consumer"))

	partitions, err := topicPartitions(ctx, cfg.Brokers[0], cfg.VoteTopic)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	// more readers than partitions would sit idle
	if len(partitions) > 0 && workers > len(partitions) {
		logger.Info("fewer partitions than workers, shrinking pool",
			zap.Int("partitions", len(partitions)), zap.Int("workers", workers))
		workers = len(partitions)
	}

	readers := make([]messageReader, 0, workers)
	for i := 0; i < workers; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.VoteTopic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}))
	}
	logger.Info("vote consumer created",
		zap.String("topic", cfg.VoteTopic), zap.String("group_id", cfg.GroupID), zap.Int("workers", workers))

	return newConsumer(readers, rejected, logger), nil
}

func newConsumer(readers []messageReader, rejected IsRejected, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	if rejected == nil {
		rejected = func(error) bool { return false }
	}
	return &Consumer{
		readers:  readers,
		ctx:      ctx,
		cancel:   cancel,
		rejected: rejected,
		logger:   logger,
	}
}

func (c *Consumer) StartConsuming(handler MessageHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r messageReader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, r, handler)
		}(i, reader)
	}
	c.logger.Info("vote consumer started", zap.Int("workers", len(c.readers)))
}

func (c *Consumer) consumeMessages(workerID int, reader messageReader, handler MessageHandler) {
	log := c.logger.With(zap.Int("worker", workerID))
	for {
		m, err := reader.ReadMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Warn("read message failed", zap.Error(err))
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.handleMessage(c.ctx, log, m, handler)
	}
}

// handleMessage decodes and ingests one message. Failures are logged; the
// offset still advances, and redelivery is the producer's concern.
func (c *Consumer) handleMessage(ctx context.Context, log *zap.Logger, m kafka.Message, handler MessageHandler) bool {
	fields := []zap.Field{zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset)}

	var payload model.VoteCastPayload
	if err := json.Unmarshal(m.Value, &payload); err != nil {
		log.Warn("skipping undecodable vote message", append(fields, zap.Error(err))...)
		return false
	}

	if err := handler(ctx, &payload); err != nil {
		if c.rejected(err) {
			log.Warn("skipping invalid vote message", append(fields, zap.Error(err))...)
		} else {
			log.Error("vote message ingestion failed", append(fields, zap.Error(err))...)
		}
		return false
	}
	return true
}

func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	var errs []error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.logger.Info("vote consumer stopped")
	return errors.Join(errs...)
}
