package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// StakeLine é uma chave consolidada dentro do pedido confirmado
type StakeLine struct {
	Category        string          `json:"category"`
	Number          string          `json:"number"`
	Amount          decimal.Decimal `json:"amount"`
	Factor          decimal.Decimal `json:"factor"`
	Reason          string          `json:"reason"`
	ReferencePayout decimal.Decimal `json:"referencePayout"`
}

// Evento publicado pelo limit-service após gravar o pedido no ledger.
type StakesCommitted struct {
	CommitID    string          `json:"commitId"`
	BatchID     string          `json:"batchId"`
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId,omitempty"`
	Lines       []StakeLine     `json:"lines"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Ts          time.Time       `json:"ts"`
}
