package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Evento publicado quando um pedido é cancelado e o ledger estornado
type OrderReversed struct {
	BatchID     string          `json:"batchId"`
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId,omitempty"`
	Lines       []StakeLine     `json:"lines,omitempty"` // vazio = estorno total
	TotalAmount decimal.Decimal `json:"totalAmount,omitempty"`
	Ts          time.Time       `json:"ts"`
}
