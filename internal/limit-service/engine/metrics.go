package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics do motor de limites; registrado no registry recebido (default no main, novo nos testes)
type Metrics struct {
	validated    *prometheus.CounterVec
	committed    *prometheus.CounterVec
	commits      prometheus.Counter
	reversals    prometheus.Counter
	ledgerErrors *prometheus.CounterVec
	ruleChanges  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		validated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limit_stakes_validated_total", Help: "apostas validadas por categoria e motivo",
		}, []string{"category", "reason"}),
		committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limit_committed_amount_total", Help: "valor gravado no ledger por categoria",
		}, []string{"category"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "limit_commits_total", Help: "pedidos gravados no ledger",
		}),
		reversals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "limit_reversals_total", Help: "pedidos estornados",
		}),
		ledgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limit_ledger_errors_total", Help: "erros do ledger por tipo",
		}, []string{"kind"}),
		ruleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limit_rule_changes_total", Help: "alterações de regras por ação",
		}, []string{"action"}),
	}
	reg.MustRegister(m.validated, m.committed, m.commits, m.reversals, m.ledgerErrors, m.ruleChanges)
	return m
}
