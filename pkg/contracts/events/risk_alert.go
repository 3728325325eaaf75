package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Evento publicado no tópico "risk_alerts" e repassado ao painel via Redis/WS
type RiskAlert struct {
	BatchID           string          `json:"batchId"`
	Type              string          `json:"type"` // danger | warning
	Category          string          `json:"category"`
	Number            string          `json:"number"`
	RiskLevel         string          `json:"riskLevel"`
	RiskScore         decimal.Decimal `json:"riskScore"`
	Concentration     decimal.Decimal `json:"concentration"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	PotentialPayout   decimal.Decimal `json:"potentialPayout"`
	Message           string          `json:"message"`
	RecommendedAction string          `json:"recommendedAction"`
	Ts                time.Time       `json:"ts"`
}
