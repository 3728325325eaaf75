package events

import "time"

type RulesChanged struct {
	Action   string    `json:"action"` // block | unblock | quota | quota_removed | payout
	Category string    `json:"category,omitempty"`
	Number   string    `json:"number,omitempty"`
	Input    string    `json:"input,omitempty"`
	Value    string    `json:"value,omitempty"`
	Rows     int       `json:"rows"`
	Ts       time.Time `json:"ts"`
}
