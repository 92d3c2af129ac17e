package ledger

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"fx-ledger/internal/apperr"
	"fx-ledger/internal/authz"
	"fx-ledger/internal/balances"
	"fx-ledger/internal/currencies"
	"fx-ledger/internal/httputil"
	"fx-ledger/internal/types"
	"fx-ledger/internal/users"
)

type Handler struct {
	svc     *Service
	balSvc  *balances.Service
	userSvc *users.Service
	gate    *authz.Gate
}

func NewHandler(svc *Service, balSvc *balances.Service, userSvc *users.Service, gate *authz.Gate) *Handler {
	return &Handler{svc: svc, balSvc: balSvc, userSvc: userSvc, gate: gate}
}

type movementRequest struct {
	UserID       string `json:"user_id,omitempty"`
	CurrencyCode string `json:"currency_code"`
	Amount       string `json:"amount"`
	Description  string `json:"description,omitempty"`
	ExternalRef  string `json:"external_reference,omitempty"`
}

// authorize resolves the target user's entity memberships and asks the
// gate. The target's entities, not the caller's claims, decide scope.
func (h *Handler) authorize(r *http.Request, p types.Principal, action authz.Action, kind authz.ResourceKind, targetUserID string) error {
	owner, err := h.userSvc.GetByID(r.Context(), targetUserID)
	if err != nil {
		return err
	}
	d := h.gate.Authorize(p, action, authz.Resource{
		Kind:           kind,
		ID:             targetUserID,
		OwnerID:        owner.ID,
		OwnerEntityIDs: owner.EntityIDs,
	})
	return d.Err()
}

func (h *Handler) Balances(w http.ResponseWriter, r *http.Request, p types.Principal, targetUserID string) {
	if err := h.authorize(r, p, authz.ActionRead, authz.KindBalance, targetUserID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.balSvc.ListForUser(r.Context(), targetUserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request, p types.Principal, targetUserID, currencyCode string) {
	if err := h.authorize(r, p, authz.ActionRead, authz.KindBalance, targetUserID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	b, err := h.balSvc.Get(r.Context(), targetUserID, currencies.NormalizeCode(currencyCode))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request, p types.Principal) {
	h.movement(w, r, p, types.TransactionTypeDeposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request, p types.Principal) {
	h.movement(w, r, p, types.TransactionTypeWithdrawal)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, p types.Principal, typ types.TransactionType) {
	var req movementRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	targetUserID := req.UserID
	if targetUserID == "" {
		targetUserID = p.UserID
	}
	if err := h.authorize(r, p, authz.ActionWrite, authz.KindTransaction, targetUserID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.WriteError(w, apperr.Validation("amount", "must be a decimal string"))
		return
	}

	var t Transaction
	if typ == types.TransactionTypeDeposit {
		t, err = h.svc.Deposit(r.Context(), targetUserID, req.CurrencyCode, amount, req.Description, req.ExternalRef)
	} else {
		t, err = h.svc.Withdraw(r.Context(), targetUserID, req.CurrencyCode, amount, req.Description, req.ExternalRef)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request, p types.Principal, targetUserID string) {
	if err := h.authorize(r, p, authz.ActionRead, authz.KindTransaction, targetUserID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	f, page, err := parseListQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	items, err := h.svc.ListForUser(r.Context(), targetUserID, f, page)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"offset": page.Offset,
		"limit":  page.clamp().Limit,
	})
}

func parseListQuery(r *http.Request) (Filter, Page, error) {
	q := r.URL.Query()
	var f Filter
	var p Page

	f.Type = types.TransactionType(q.Get("type"))
	f.CurrencyCode = q.Get("currency")
	f.Status = types.TransactionStatus(q.Get("status"))
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, p, apperr.Validation("from", "must be RFC3339")
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, p, apperr.Validation("to", "must be RFC3339")
		}
		f.To = t
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, p, apperr.Validation("offset", "must be a non-negative integer")
		}
		p.Offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, p, apperr.Validation("limit", "must be a non-negative integer")
		}
		p.Limit = n
	}
	return f, p, nil
}
