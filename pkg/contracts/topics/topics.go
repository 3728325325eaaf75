package topics

const (
	// Pedidos
	StakesCommitted = "stakes_committed"
	OrderReversed   = "order_reversed"

	// Regras
	RulesChanged = "rules_changed"

	// Risco
	RiskAlerts = "risk_alerts"

	// DLQs
	StakesCommittedDLQ = "stakes_committed_dlq"
)
