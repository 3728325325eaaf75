package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "limit-service")

	cfg := Load()
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.RuleCacheTTL)
	assert.Equal(t, 3, cfg.LedgerMaxRetries)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "stakes_committed", cfg.TopicStakesCommitted)
	assert.Equal(t, "rules_invalidate", cfg.RulesInvalidateChannel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVICE_NAME", "risk-alert-worker")
	t.Setenv("RULE_CACHE_TTL", "250ms")
	t.Setenv("LEDGER_MAX_RETRIES", "7")
	t.Setenv("STORE_BACKEND", "postgres")

	cfg := Load()
	assert.Equal(t, 250*time.Millisecond, cfg.RuleCacheTTL)
	assert.Equal(t, 7, cfg.LedgerMaxRetries)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "", cfg.HTTPPort)
	assert.Equal(t, "9097", cfg.MetricsPort)

	t.Setenv("RULE_CACHE_TTL", "10")
	assert.Equal(t, 10*time.Second, Load().RuleCacheTTL)

	t.Setenv("RULE_CACHE_TTL", "soon")
	assert.Equal(t, 5*time.Second, Load().RuleCacheTTL)
}
