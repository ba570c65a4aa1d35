// Package publish pushes completed-run alerts to Kafka for downstream
// consumers. This is an output sink only; analysis input stays batch.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"tracefuse/internal/config"
	"tracefuse/internal/model"
)

type AlertPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

type alertMessage struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// NewKafka returns nil when publishing is disabled; callers treat a nil
// publisher as a no-op.
func NewKafka(cfg config.PublishConfig, logger *slog.Logger) *AlertPublisher {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("alert publishing disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("alert publishing enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return &AlertPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger,
	}
}

func (p *AlertPublisher) Publish(ctx context.Context, runID string, alerts []model.Alert) error {
	if p == nil || len(alerts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(alerts))
	for _, alert := range alerts {
		payload, err := json.Marshal(alertMessage{
			RunID:     runID,
			Timestamp: alert.Timestamp,
			Message:   alert.Message,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(runID), Value: payload})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		if p.logger != nil {
			p.logger.Warn("alert publish failed", "err", err, "run_id", runID)
		}
		return err
	}
	return nil
}

func (p *AlertPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
