package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReportCache guarda o painel de risco de um batch por alguns segundos;
// várias telas abertas no mesmo batch não recalculam o ledger a cada refresh.
type ReportCache struct {
	R   *redis.Client
	TTL time.Duration
}

func New(r *redis.Client, ttl time.Duration) *ReportCache { return &ReportCache{R: r, TTL: ttl} }

func keyRisk(batchID string) string { return "risk:report:" + batchID }

func (c *ReportCache) GetRisk(ctx context.Context, batchID string, dst any) (bool, error) {
	b, err := c.R.Get(ctx, keyRisk(batchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("decode cached report: %w", err)
	}
	return true, nil
}

func (c *ReportCache) SetRisk(ctx context.Context, batchID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return c.R.Set(ctx, keyRisk(batchID), b, c.TTL).Err()
}
