package producer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/lotto-limit-engine/pkg/contracts/events"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	ctx := context.Background()
	committed, reversed, rules := &fakeWriter{}, &fakeWriter{}, &fakeWriter{}
	p := &KafkaPublisher{Committed: committed, Reversed: reversed, Rules: rules}

	t.Run("should key committed stakes by batch", func(t *testing.T) {
		err := p.PublishStakesCommitted(ctx, events.StakesCommitted{
			BatchID: "20260116", OrderID: "o-1",
			Lines:       []events.StakeLine{{Category: "3_top", Number: "921", Amount: decimal.NewFromInt(100)}},
			TotalAmount: decimal.NewFromInt(100),
		})
		require.NoError(t, err)
		require.Len(t, committed.msgs, 1)
		assert.Equal(t, "20260116", string(committed.msgs[0].Key))

		var got events.StakesCommitted
		require.NoError(t, json.Unmarshal(committed.msgs[0].Value, &got))
		assert.Equal(t, "o-1", got.OrderID)
		assert.True(t, decimal.NewFromInt(100).Equal(got.TotalAmount))
	})

	t.Run("should route each event to its own writer", func(t *testing.T) {
		require.NoError(t, p.PublishOrderReversed(ctx, events.OrderReversed{BatchID: "20260116", OrderID: "o-1"}))
		require.NoError(t, p.PublishRulesChanged(ctx, events.RulesChanged{Action: "block", Category: "tote"}))
		assert.Len(t, reversed.msgs, 1)
		require.Len(t, rules.msgs, 1)
		assert.Equal(t, "tote", string(rules.msgs[0].Key))
	})

	assert.NoError(t, p.Close())
}
