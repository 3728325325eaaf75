package ws

import "github.com/radieske/lotto-limit-engine/pkg/contracts/events"

// ClientMsg representa uma mensagem recebida do painel
// Type: subscribe | unsubscribe | ping
type ClientMsg struct {
	Type    string `json:"type"`
	BatchID string `json:"batchId"` // requerido em subscribe/unsubscribe
}

// AlertMsg é o envelope entregue aos painéis inscritos no batch
type AlertMsg struct {
	Type    string           `json:"type"` // "risk_alert"
	BatchID string           `json:"batchId"`
	Alert   events.RiskAlert `json:"alert"`
}
