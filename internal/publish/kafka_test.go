package publish

import (
	"context"
	"testing"
	"time"

	"tracefuse/internal/config"
	"tracefuse/internal/model"
)

func TestDisabledPublisherIsNil(t *testing.T) {
	p := NewKafka(config.PublishConfig{Enabled: false}, nil)
	if p != nil {
		t.Fatalf("disabled config should yield nil publisher")
	}
	// Nil publisher is a no-op, not a panic.
	if err := p.Publish(context.Background(), "run-1", []model.Alert{{Timestamp: time.Now(), Message: "x"}}); err != nil {
		t.Fatalf("nil publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestPublishEmptyBatchNoOp(t *testing.T) {
	p := NewKafka(config.PublishConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "alerts"}, nil)
	defer p.Close()
	if err := p.Publish(context.Background(), "run-1", nil); err != nil {
		t.Fatalf("empty batch should not touch the broker: %v", err)
	}
}
