package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/shard"
	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/metrics"
)

// BatchConsumer drives chunk batches from Kafka into the shards.
type BatchConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func NewBatchConsumer(kafkaConsumer *kafka.Consumer) *BatchConsumer {
	return &BatchConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "batch-consumer"),
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (bc *BatchConsumer) Start(ctx context.Context) error {
	bc.logger.Info("batch consumer starting")
	err := bc.consumer.Start(ctx)
	if cerr := bc.consumer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// HandleMessage returns a MessageHandler that adds each ChunkBatchEvent to
// its shard. Malformed events and batches the indexer rejects are logged and
// committed, since redelivery would fail the same way. m may be nil.
func HandleMessage(router *shard.Router, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "batch-consumer")
	count := func(status string) {
		if m != nil {
			m.BatchesConsumedTotal.WithLabelValues(status).Inc()
		}
	}
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ChunkBatchEvent](value)
		if err != nil {
			logger.Error("failed to decode chunk batch", "error", err, "key", string(key))
			count("malformed")
			return nil
		}
		if err := ValidateEvent(event); err != nil {
			logger.Warn("rejected chunk batch", "batch_id", event.BatchID, "error", err)
			count("rejected")
			return nil
		}

		s, err := router.Route(event.ShardID)
		if err != nil {
			logger.Warn("chunk batch for unknown shard", "batch_id", event.BatchID, "shard_id", event.ShardID)
			count("rejected")
			return nil
		}

		n, err := s.Add(ToPairs(event.Pairs), event.Weights)
		if err != nil {
			if isCallerError(err) {
				logger.Warn("shard rejected chunk batch",
					"batch_id", event.BatchID,
					"shard_id", event.ShardID,
					"error", err,
				)
				count("rejected")
				return nil
			}
			count("error")
			return fmt.Errorf("adding batch %s to shard %d: %w", event.BatchID, event.ShardID, err)
		}

		count("ok")
		logger.Debug("chunk batch added",
			"batch_id", event.BatchID,
			"shard_id", event.ShardID,
			"pairs", len(event.Pairs),
			"chunk_count", n,
		)
		return nil
	}
}

func isCallerError(err error) bool {
	return errors.Is(err, apperrors.ErrLengthMismatch) ||
		errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrShardUnavailable)
}
