package currencies

import (
	"net/http"

	"github.com/shopspring/decimal"

	"fx-ledger/internal/apperr"
	"fx-ledger/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (h *Handler) ListPairs(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListPairs(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var c Currency
	if err := httputil.ReadJSON(r, &c); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	created, err := h.svc.Create(r.Context(), c)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request, code string) {
	var req setActiveRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.svc.SetActive(r.Context(), code, req.Active); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "currency updated"})
}

type createPairRequest struct {
	Symbol    string `json:"symbol"`
	BaseCode  string `json:"base_code"`
	QuoteCode string `json:"quote_code"`
	MinAmount string `json:"min_amount,omitempty"`
	MaxAmount string `json:"max_amount,omitempty"`
	// FeeRate overrides the service-wide default when present.
	FeeRate *string `json:"fee_rate,omitempty"`
}

func (h *Handler) CreatePair(w http.ResponseWriter, r *http.Request) {
	var req createPairRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	p := Pair{Symbol: req.Symbol, BaseCode: req.BaseCode, QuoteCode: req.QuoteCode}
	var err error
	if req.MinAmount != "" {
		if p.MinAmount, err = decimal.NewFromString(req.MinAmount); err != nil {
			httputil.WriteError(w, apperr.Validation("min_amount", "must be a decimal string"))
			return
		}
	}
	if req.MaxAmount != "" {
		if p.MaxAmount, err = decimal.NewFromString(req.MaxAmount); err != nil {
			httputil.WriteError(w, apperr.Validation("max_amount", "must be a decimal string"))
			return
		}
	}
	if req.FeeRate != nil {
		if p.FeeRate, err = decimal.NewFromString(*req.FeeRate); err != nil {
			httputil.WriteError(w, apperr.Validation("fee_rate", "must be a decimal string"))
			return
		}
		p.HasFeeRate = true
	}
	created, err := h.svc.CreatePair(r.Context(), p)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) SetPairActive(w http.ResponseWriter, r *http.Request, symbol string) {
	var req setActiveRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.svc.SetPairActive(r.Context(), symbol, req.Active); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "pair updated"})
}
