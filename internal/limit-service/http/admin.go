package httpapi

import (
	"net/http"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/dto"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/rules"
)

// GET /v1/admin/blocked?category=3_top
func (s *Server) listBlocked(w http.ResponseWriter, r *http.Request) {
	filter, err := categoryFilter(r.URL.Query().Get("category"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.engine.BlockedNumbers(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if out == nil {
		out = []rules.BlockedEntry{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) block(w http.ResponseWriter, r *http.Request) {
	var req dto.BlockRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	filter, err := categoryFilter(req.Category)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.engine.BlockNumbers(r.Context(), req.Numbers, filter, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.RulesChangedResponse{Rows: n})
}

func (s *Server) unblock(w http.ResponseWriter, r *http.Request) {
	var req dto.UnblockRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	filter, err := categoryFilter(req.Category)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.engine.UnblockNumbers(r.Context(), req.Numbers, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.RulesChangedResponse{Rows: n})
}

func (s *Server) setQuota(w http.ResponseWriter, r *http.Request) {
	var req dto.QuotaRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := numbers.ParseCategory(req.Category)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.SetQuota(r.Context(), c, req.Number, req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.RulesChangedResponse{Rows: 1})
}

func (s *Server) removeQuota(w http.ResponseWriter, r *http.Request) {
	var req dto.RemoveQuotaRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := numbers.ParseCategory(req.Category)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok, err := s.engine.RemoveQuota(r.Context(), c, req.Number)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.QuotaRemovedResponse{Removed: ok})
}

func (s *Server) setPayoutRate(w http.ResponseWriter, r *http.Request) {
	var req dto.PayoutRateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := numbers.ParseCategory(req.Category)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.SetPayoutRate(r.Context(), c, req.Rate); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.RulesChangedResponse{Rows: 1})
}

func (s *Server) rulesOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.engine.RulesOverview(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}
