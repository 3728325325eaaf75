package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/lotto-limit-engine/pkg/contracts/events"
)

// StartRedisSubscriber repassa ao Hub os alertas publicados pelo risk-alert-worker
func StartRedisSubscriber(ctx context.Context, r *redis.Client, channel string, hub *Hub, log *zap.Logger) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				relay(hub, log, []byte(msg.Payload))
			}
		}
	}()
}

func relay(hub *Hub, log *zap.Logger, payload []byte) {
	var a events.RiskAlert
	if err := json.Unmarshal(payload, &a); err != nil {
		log.Warn("ws subscriber unmarshal error", zap.Error(err))
		return
	}
	if a.BatchID == "" {
		return
	}
	hub.Broadcast(a)
}
