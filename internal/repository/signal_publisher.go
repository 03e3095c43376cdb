package repository

import (
	"context"
	"fmt"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
)

// messagePublisher is satisfied by *pkgkafka.Producer.
type messagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value any) error
	Close() error
}

// KafkaSignalPublisher emits every regime change keyed by benchmark symbol so
// consumers see them in order.
type KafkaSignalPublisher struct {
	producer messagePublisher
	topic    string
}

func NewKafkaSignalPublisher(producer messagePublisher, topic string) *KafkaSignalPublisher {
	return &KafkaSignalPublisher{producer: producer, topic: topic}
}

func (p *KafkaSignalPublisher) Publish(ctx context.Context, sig models.MarketRegime) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(sig.Symbol), sig); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}

func (p *KafkaSignalPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopSignalPublisher drops signals; used when Kafka is disabled.
type NopSignalPublisher struct{}

func (NopSignalPublisher) Publish(context.Context, models.MarketRegime) error { return nil }
func (NopSignalPublisher) Close() error                                       { return nil }

var (
	_ domrepo.SignalPublisher = (*KafkaSignalPublisher)(nil)
	_ domrepo.SignalPublisher = NopSignalPublisher{}
)
