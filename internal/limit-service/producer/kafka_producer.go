package producer

import (
	"context"
	"io"

	skafka "github.com/radieske/lotto-limit-engine/internal/shared/kafka"
	"github.com/radieske/lotto-limit-engine/pkg/contracts/events"
)

// KafkaPublisher publica os eventos do motor, um writer por tópico.
// Pedidos usam o batch como chave para manter a ordem por período.
type KafkaPublisher struct {
	Committed skafka.MessageWriter
	Reversed  skafka.MessageWriter
	Rules     skafka.MessageWriter
}

func NewKafkaPublisher(brokers, topicCommitted, topicReversed, topicRules string) *KafkaPublisher {
	return &KafkaPublisher{
		Committed: skafka.NewWriter(brokers, topicCommitted),
		Reversed:  skafka.NewWriter(brokers, topicReversed),
		Rules:     skafka.NewWriter(brokers, topicRules),
	}
}

func (p *KafkaPublisher) PublishStakesCommitted(ctx context.Context, e events.StakesCommitted) error {
	return skafka.WriteJSON(ctx, p.Committed, e.BatchID, e)
}

func (p *KafkaPublisher) PublishOrderReversed(ctx context.Context, e events.OrderReversed) error {
	return skafka.WriteJSON(ctx, p.Reversed, e.BatchID, e)
}

func (p *KafkaPublisher) PublishRulesChanged(ctx context.Context, e events.RulesChanged) error {
	return skafka.WriteJSON(ctx, p.Rules, e.Category, e)
}

func (p *KafkaPublisher) Close() error {
	var first error
	for _, w := range []skafka.MessageWriter{p.Committed, p.Reversed, p.Rules} {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
