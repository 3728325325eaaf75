package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/risk"
	skafka "github.com/radieske/lotto-limit-engine/internal/shared/kafka"
	"github.com/radieske/lotto-limit-engine/pkg/contracts/events"
)

// MessageReader é o subconjunto do *kafka.Reader usado pelo worker
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// RiskSource recalcula o relatório de risco do batch (engine.RiskDashboard)
type RiskSource interface {
	RiskDashboard(ctx context.Context, batchID string) (risk.Report, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, a events.RiskAlert) error
}

var errMissingBatch = errors.New("event without batch id")

// Processor consome stakes_committed, recalcula o risco do batch e publica
// alertas novos no Kafka (risk_alerts) e no Redis (painel WS).
// Um alerta só é republicado quando o tipo do número muda.
type Processor struct {
	Log         *zap.Logger
	Reader      MessageReader
	Risk        RiskSource
	Alerts      skafka.MessageWriter
	DLQ         skafka.MessageWriter // opcional
	Broadcaster Broadcaster          // opcional
	Now         func() time.Time

	OnConsumed func()       // métricas (counter++)
	OnAlert    func(string) // métricas por tipo de alerta
	OnError    func(string) // métricas por fase

	mu   sync.Mutex
	seen map[string]map[string]string // batch -> key -> tipo do último alerta
}

// Run inicia o loop principal de consumo
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.fail("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if p.OnConsumed != nil {
			p.OnConsumed()
		}
		if err := p.Handle(ctx, m); err != nil {
			p.Log.Warn("stakes_committed handling failed", zap.Error(err))
		}
	}
}

// Handle processa uma mensagem; payload inválido vai para a DLQ
func (p *Processor) Handle(ctx context.Context, m kafka.Message) error {
	var ev events.StakesCommitted
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.BatchID == "" {
		p.fail("decode")
		if p.DLQ != nil {
			dlq := kafka.Message{Key: m.Key, Value: m.Value, Time: time.Now()}
			if derr := p.DLQ.WriteMessages(ctx, dlq); derr != nil {
				p.fail("dlq")
			}
		}
		if err == nil {
			err = errMissingBatch
		}
		return fmt.Errorf("invalid message: %w", err)
	}

	rep, err := p.Risk.RiskDashboard(ctx, ev.BatchID)
	if err != nil {
		p.fail("risk")
		return fmt.Errorf("risk report %s: %w", ev.BatchID, err)
	}

	for _, a := range p.fresh(rep) {
		if err := skafka.WriteJSON(ctx, p.Alerts, ev.BatchID, a); err != nil {
			p.fail("publish")
			return err
		}
		p.markSeen(a)
		if p.Broadcaster != nil {
			if err := p.Broadcaster.Broadcast(ctx, a); err != nil {
				// o painel perde o alerta mas o tópico já tem o registro
				p.Log.Warn("ws broadcast publish failed", zap.Error(err))
				p.fail("broadcast")
			}
		}
		if p.OnAlert != nil {
			p.OnAlert(a.Type)
		}
		p.Log.Info("risk alert",
			zap.String("batch_id", a.BatchID),
			zap.String("type", a.Type),
			zap.String("category", a.Category),
			zap.String("number", a.Number),
			zap.String("score", a.RiskScore.String()))
	}
	return nil
}

func alertID(category, number string) string { return category + ":" + number }

// fresh converte os alertas do relatório e descarta os já publicados com o mesmo tipo.
// Só markSeen registra o alerta, depois que o Kafka aceitou a escrita.
func (p *Processor) fresh(rep risk.Report) []events.RiskAlert {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.seen[rep.BatchID]

	byKey := make(map[string]risk.NumberRisk, len(rep.Numbers))
	for _, n := range rep.Numbers {
		byKey[n.Key.String()] = n
	}

	var out []events.RiskAlert
	for _, a := range rep.Alerts {
		if last[alertID(string(a.Key.Category), a.Key.Number)] == a.Type {
			continue
		}

		n := byKey[a.Key.String()]
		out = append(out, events.RiskAlert{
			BatchID:           rep.BatchID,
			Type:              a.Type,
			Category:          string(a.Key.Category),
			Number:            a.Key.Number,
			RiskLevel:         string(n.Level),
			RiskScore:         n.Score,
			Concentration:     n.Concentration,
			TotalAmount:       n.TotalAmount,
			PotentialPayout:   n.PotentialPayout,
			Message:           a.Message,
			RecommendedAction: string(n.Action),
			Ts:                now(),
		})
	}
	return out
}

func (p *Processor) markSeen(a events.RiskAlert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = make(map[string]map[string]string)
	}
	last, ok := p.seen[a.BatchID]
	if !ok {
		last = make(map[string]string)
		p.seen[a.BatchID] = last
	}
	last[alertID(a.Category, a.Number)] = a.Type
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
