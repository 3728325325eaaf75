package dto

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/engine"
)

type ValidateResponse struct {
	BatchID              string           `json:"batchId"`
	Items                []engine.Verdict `json:"items"`
	TotalAmount          decimal.Decimal  `json:"totalAmount"`
	TotalReferencePayout decimal.Decimal  `json:"totalReferencePayout"`
	Warnings             []string         `json:"warnings,omitempty"`
}

type RulesChangedResponse struct {
	Rows int `json:"rows"`
}

type QuotaRemovedResponse struct {
	Removed bool `json:"removed"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
