package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/rules"
	"github.com/radieske/lotto-limit-engine/pkg/contracts/events"
)

// BlockNumbers bloqueia a entrada e todas as permutações; filter vazio = todas as categorias
func (e *Engine) BlockNumbers(ctx context.Context, rawInput string, filter numbers.Category, reason string) (int, error) {
	n, err := e.rules.AddBlockedNumbers(ctx, rawInput, filter, reason)
	if err != nil {
		return 0, err
	}
	e.ruleChanged(ctx, events.RulesChanged{Action: "block", Category: string(filter), Input: rawInput, Value: reason, Rows: n})
	return n, nil
}

func (e *Engine) UnblockNumbers(ctx context.Context, rawInput string, filter numbers.Category) (int, error) {
	n, err := e.rules.RemoveBlockedNumbers(ctx, rawInput, filter)
	if err != nil {
		return 0, err
	}
	e.ruleChanged(ctx, events.RulesChanged{Action: "unblock", Category: string(filter), Input: rawInput, Rows: n})
	return n, nil
}

// SetQuota: number nil altera a cota padrão da categoria, senão a cota do número normalizado
func (e *Engine) SetQuota(ctx context.Context, c numbers.Category, number *string, amount decimal.Decimal) error {
	if number == nil {
		if err := e.rules.SetDefaultQuota(ctx, c, amount); err != nil {
			return err
		}
		e.ruleChanged(ctx, events.RulesChanged{Action: "quota", Category: string(c), Value: amount.String(), Rows: 1})
		return nil
	}

	k, err := numbers.Normalize(*number, c)
	if err != nil {
		return err
	}
	if err := e.rules.SetNumberQuota(ctx, k, amount); err != nil {
		return err
	}
	e.ruleChanged(ctx, events.RulesChanged{Action: "quota", Category: string(c), Number: k.Number, Value: amount.String(), Rows: 1})
	return nil
}

// RemoveQuota volta o número para a cota da categoria
func (e *Engine) RemoveQuota(ctx context.Context, c numbers.Category, number string) (bool, error) {
	k, err := numbers.Normalize(number, c)
	if err != nil {
		return false, err
	}
	ok, err := e.rules.RemoveNumberQuota(ctx, k)
	if err != nil {
		return false, err
	}
	if ok {
		e.ruleChanged(ctx, events.RulesChanged{Action: "quota_removed", Category: string(c), Number: k.Number, Rows: 1})
	}
	return ok, nil
}

func (e *Engine) SetPayoutRate(ctx context.Context, c numbers.Category, rate decimal.Decimal) error {
	if err := e.rules.SetPayoutRate(ctx, c, rate); err != nil {
		return err
	}
	e.ruleChanged(ctx, events.RulesChanged{Action: "payout", Category: string(c), Value: rate.String(), Rows: 1})
	return nil
}

func (e *Engine) BlockedNumbers(ctx context.Context, filter numbers.Category) ([]rules.BlockedEntry, error) {
	return e.rules.BlockedEntries(ctx, filter)
}

func (e *Engine) RulesOverview(ctx context.Context) (rules.Overview, error) {
	return e.rules.Overview(ctx)
}

func (e *Engine) ruleChanged(ctx context.Context, ev events.RulesChanged) {
	ev.Ts = e.now()
	e.metrics.ruleChanges.WithLabelValues(ev.Action).Inc()
	e.log.Info("rules changed",
		zap.String("action", ev.Action),
		zap.String("category", ev.Category),
		zap.String("input", ev.Input),
		zap.String("number", ev.Number),
		zap.Int("rows", ev.Rows))

	if e.publ == nil {
		return
	}
	if err := e.publ.PublishRulesChanged(ctx, ev); err != nil {
		e.log.Warn("publish rules_changed failed", zap.Error(err))
	}
}
