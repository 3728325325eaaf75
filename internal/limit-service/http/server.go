package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/dto"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/engine"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/ledger"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/risk"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/rules"
	"github.com/radieske/lotto-limit-engine/internal/shared/period"
)

// ReportCache é o cache-aside do painel de risco (Redis em produção)
type ReportCache interface {
	GetRisk(ctx context.Context, batchID string, dst any) (bool, error)
	SetRisk(ctx context.Context, batchID string, v any) error
}

// Server expõe o motor de limites em REST e o stream de alertas em WS
type Server struct {
	log     *zap.Logger
	engine  *engine.Engine
	ws      http.HandlerFunc
	reports ReportCache
	now     func() time.Time
}

// NewServer aceita ws nil quando não há Redis para repassar alertas
func NewServer(log *zap.Logger, e *engine.Engine, ws http.HandlerFunc) *Server {
	return &Server{log: log, engine: e, ws: ws, now: time.Now}
}

// WithReportCache liga o cache do painel de risco
func (s *Server) WithReportCache(c ReportCache) *Server {
	s.reports = c
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/stakes/validate", s.validate)
	r.Post("/v1/orders", s.createOrder)
	r.Post("/v1/orders/{orderId}/reverse", s.reverseOrder)

	r.Get("/v1/batches/{batchId}/risk", s.riskDashboard)
	r.Get("/v1/batches/{batchId}/quota-usage", s.quotaDashboard)
	r.Get("/v1/batches/{batchId}/numbers/{category}/{number}", s.numberUsage)

	r.Route("/v1/admin", func(r chi.Router) {
		r.Get("/blocked", s.listBlocked)
		r.Post("/blocked", s.block)
		r.Delete("/blocked", s.unblock)
		r.Put("/quotas", s.setQuota)
		r.Delete("/quotas", s.removeQuota)
		r.Put("/payout-rates", s.setPayoutRate)
		r.Get("/rules", s.rulesOverview)
	})

	if s.ws != nil {
		r.Get("/ws/risk", s.ws)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf traduz os erros de domínio; bloqueio e estouro de cota não chegam aqui.
// Regra ausente é erro de configuração e cai no 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, numbers.ErrInvalidFormat),
		errors.Is(err, numbers.ErrUnknownCategory),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrEmptyOrder),
		errors.Is(err, engine.ErrBatchRequired),
		errors.Is(err, rules.ErrInvalidValue),
		errors.Is(err, ledger.ErrInvalidPosting),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrConsistencyViolation),
		errors.Is(err, ledger.ErrDuplicatePosting),
		errors.Is(err, ledger.ErrAlreadyReversed):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrLedgerWriteConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: bad json: %v", errBadRequest, err)
	}
	return nil
}

// batchOf usa o período corrente quando o batch não vem no request
func (s *Server) batchOf(batchID string) (string, error) {
	if batchID == "" {
		return period.BatchID(s.now()), nil
	}
	if err := period.Validate(batchID); err != nil {
		return "", fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return batchID, nil
}

func toStakes(items []dto.StakeItem) ([]engine.Stake, error) {
	out := make([]engine.Stake, 0, len(items))
	for i, it := range items {
		c, err := numbers.ParseCategory(it.Category)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, engine.Stake{Category: c, Number: it.Number, Amount: it.Amount})
	}
	return out, nil
}

// categoryFilter: vazio = todas as categorias
func categoryFilter(raw string) (numbers.Category, error) {
	if raw == "" {
		return "", nil
	}
	return numbers.ParseCategory(raw)
}

func summarize(batchID string, vs []engine.Verdict) dto.ValidateResponse {
	resp := dto.ValidateResponse{BatchID: batchID, Items: vs, TotalAmount: decimal.Zero, TotalReferencePayout: decimal.Zero}
	for _, v := range vs {
		resp.TotalAmount = resp.TotalAmount.Add(v.Amount)
		resp.TotalReferencePayout = resp.TotalReferencePayout.Add(v.ReferencePayout)
		switch v.Reason {
		case engine.ReasonBlocked:
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s %s is blocked, payout reduced to %s", v.Key.Category.Label(), v.Key.Number, v.Factor))
		case engine.ReasonOverQuota:
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s %s exceeds quota (remaining %s), payout reduced to %s", v.Key.Category.Label(), v.Key.Number, v.RemainingQuota, v.Factor))
		}
		if len(v.Covers) > 1 {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("tote %s covers %d orderings", v.Key.Number, len(v.Covers)))
		}
	}
	return resp
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	var req dto.ValidateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	batchID, err := s.batchOf(req.BatchID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stakes, err := toStakes(req.Items)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	vs, err := s.engine.ValidateSubmission(r.Context(), batchID, stakes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(batchID, vs))
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateOrderRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	batchID, err := s.batchOf(req.BatchID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stakes, err := toStakes(req.Items)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// 1) valida e consolida as linhas
	vs, err := s.engine.ValidateSubmission(r.Context(), batchID, stakes)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// 2) grava no ledger (reavalia contra o uso atual)
	res, err := s.engine.CommitStakes(r.Context(), engine.CommitRequest{
		BatchID:  batchID,
		OrderID:  req.OrderID,
		UserID:   req.UserID,
		Verdicts: vs,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) reverseOrder(w http.ResponseWriter, r *http.Request) {
	var req dto.ReverseOrderRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	batchID, err := s.batchOf(req.BatchID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stakes, err := toStakes(req.Items)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.engine.ReverseOrder(r.Context(), engine.ReverseRequest{
		BatchID: batchID,
		OrderID: chi.URLParam(r, "orderId"),
		UserID:  req.UserID,
		Items:   stakes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) riskDashboard(w http.ResponseWriter, r *http.Request) {
	batchID, err := s.batchOf(chi.URLParam(r, "batchId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if s.reports != nil {
		var cached risk.Report
		if ok, err := s.reports.GetRisk(r.Context(), batchID, &cached); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		} else if err != nil {
			s.log.Warn("risk report cache read failed", zap.Error(err))
		}
	}

	rep, err := s.engine.RiskDashboard(r.Context(), batchID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.reports != nil {
		if err := s.reports.SetRisk(r.Context(), batchID, rep); err != nil {
			s.log.Warn("risk report cache write failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) quotaDashboard(w http.ResponseWriter, r *http.Request) {
	batchID, err := s.batchOf(chi.URLParam(r, "batchId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.engine.QuotaDashboard(r.Context(), batchID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) numberUsage(w http.ResponseWriter, r *http.Request) {
	batchID, err := s.batchOf(chi.URLParam(r, "batchId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := numbers.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	det, err := s.engine.NumberUsage(r.Context(), batchID, c, chi.URLParam(r, "number"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}
