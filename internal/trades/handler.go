package trades

import (
	"net/http"

	"github.com/shopspring/decimal"

	"fx-ledger/internal/apperr"
	"fx-ledger/internal/authz"
	"fx-ledger/internal/httputil"
	"fx-ledger/internal/types"
	"fx-ledger/internal/users"
)

type Handler struct {
	engine  *Engine
	userSvc *users.Service
	gate    *authz.Gate
}

func NewHandler(engine *Engine, userSvc *users.Service, gate *authz.Gate) *Handler {
	return &Handler{engine: engine, userSvc: userSvc, gate: gate}
}

type tradeRequest struct {
	UserID         string          `json:"user_id,omitempty"`
	Pair           string          `json:"pair"`
	Side           types.TradeSide `json:"side"`
	Amount         string          `json:"amount"`
	Price          string          `json:"price"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (h *Handler) authorize(r *http.Request, p types.Principal, action authz.Action, targetUserID string) error {
	owner, err := h.userSvc.GetByID(r.Context(), targetUserID)
	if err != nil {
		return err
	}
	d := h.gate.Authorize(p, action, authz.Resource{
		Kind:           authz.KindTrade,
		ID:             targetUserID,
		OwnerID:        owner.ID,
		OwnerEntityIDs: owner.EntityIDs,
	})
	return d.Err()
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request, p types.Principal) (Request, bool) {
	var body tradeRequest
	if err := httputil.ReadJSON(r, &body); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return Request{}, false
	}
	targetUserID := body.UserID
	if targetUserID == "" {
		targetUserID = p.UserID
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		httputil.WriteError(w, apperr.Validation("amount", "must be a decimal string"))
		return Request{}, false
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		httputil.WriteError(w, apperr.Validation("price", "must be a decimal string"))
		return Request{}, false
	}
	return Request{
		UserID:         targetUserID,
		Pair:           body.Pair,
		Side:           body.Side,
		Amount:         amount,
		Price:          price,
		IdempotencyKey: body.IdempotencyKey,
	}, true
}

// Simulate quotes a trade without writing. Read scope is enough; a
// viewer may price out a trade they cannot execute.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request, p types.Principal) {
	req, ok := h.parse(w, r, p)
	if !ok {
		return
	}
	if err := h.authorize(r, p, authz.ActionRead, req.UserID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	proj, err := h.engine.Simulate(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, proj)
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request, p types.Principal) {
	req, ok := h.parse(w, r, p)
	if !ok {
		return
	}
	if err := h.authorize(r, p, authz.ActionWrite, req.UserID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	trade, err := h.engine.Execute(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, trade)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, p types.Principal, targetUserID, tradeID string) {
	if err := h.authorize(r, p, authz.ActionRead, targetUserID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	trade, err := h.engine.GetByID(r.Context(), targetUserID, tradeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trade)
}
