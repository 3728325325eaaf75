package dto

import "github.com/shopspring/decimal"

type StakeItem struct {
	Category string          `json:"category"` // 2_top | 2_bottom | 3_top | tote
	Number   string          `json:"number"`
	Amount   decimal.Decimal `json:"amount"`
}

// ValidateRequest: batchId vazio = período corrente
type ValidateRequest struct {
	BatchID string      `json:"batchId,omitempty"`
	Items   []StakeItem `json:"items"`
}

type CreateOrderRequest struct {
	BatchID string      `json:"batchId,omitempty"`
	OrderID string      `json:"orderId,omitempty"` // gerado quando vazio
	UserID  string      `json:"userId"`
	Items   []StakeItem `json:"items"`
}

// ReverseOrderRequest: items vazio estorna o pedido inteiro
type ReverseOrderRequest struct {
	BatchID string      `json:"batchId,omitempty"`
	UserID  string      `json:"userId,omitempty"`
	Items   []StakeItem `json:"items,omitempty"`
}

// BlockRequest aceita vários números separados por espaço, vírgula ou ponto e vírgula
type BlockRequest struct {
	Numbers  string `json:"numbers"`
	Category string `json:"category,omitempty"` // vazio = todas
	Reason   string `json:"reason,omitempty"`
}

type UnblockRequest struct {
	Numbers  string `json:"numbers"`
	Category string `json:"category,omitempty"`
}

// QuotaRequest: number ausente altera a cota padrão da categoria
type QuotaRequest struct {
	Category string          `json:"category"`
	Number   *string         `json:"number,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

type RemoveQuotaRequest struct {
	Category string `json:"category"`
	Number   string `json:"number"`
}

type PayoutRateRequest struct {
	Category string          `json:"category"`
	Rate     decimal.Decimal `json:"rate"`
}
