package rules

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotifier publica a invalidação no canal Pub/Sub.
// O payload é o id da instância para ela ignorar o próprio aviso.
type RedisNotifier struct {
	r          *redis.Client
	channel    string
	instanceID string
}

func NewRedisNotifier(r *redis.Client, channel, instanceID string) *RedisNotifier {
	return &RedisNotifier{r: r, channel: channel, instanceID: instanceID}
}

func (n *RedisNotifier) NotifyRulesChanged(ctx context.Context) error {
	return n.r.Publish(ctx, n.channel, n.instanceID).Err()
}

// StartInvalidationListener escuta o canal e limpa o cache local quando outra instância grava regras
func StartInvalidationListener(ctx context.Context, r *redis.Client, channel, instanceID string, store *Store, log *zap.Logger) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg := <-ch:
				if msg == nil || msg.Payload == instanceID {
					continue
				}
				store.Invalidate()
				log.Debug("rules cache invalidated", zap.String("from", msg.Payload))
			}
		}
	}()
}
