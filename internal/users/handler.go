package users

import (
	"net/http"

	"fx-ledger/internal/authz"
	"fx-ledger/internal/httputil"
	"fx-ledger/internal/types"
)

type Handler struct {
	svc  *Service
	gate *authz.Gate
}

func NewHandler(svc *Service, gate *authz.Gate) *Handler {
	return &Handler{svc: svc, gate: gate}
}

type createUserRequest struct {
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     types.Role `json:"role"`
}

type setRoleRequest struct {
	Role types.Role `json:"role"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type createEntityRequest struct {
	Name string `json:"name"`
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

// Create provisions a user with a forced password rotation on first
// login. Admin only; self-service signup goes through auth.Register.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	u, err := h.svc.Create(r.Context(), CreateParams{
		Username:            req.Username,
		Email:               req.Email,
		Password:            req.Password,
		Role:                req.Role,
		ForcePasswordChange: true,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, p types.Principal, targetUserID string) {
	u, err := h.svc.GetByID(r.Context(), targetUserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d := h.gate.Authorize(p, authz.ActionRead, authz.Resource{
		Kind:           authz.KindProfile,
		ID:             u.ID,
		OwnerID:        u.ID,
		OwnerEntityIDs: u.EntityIDs,
	})
	if err := d.Err(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request, targetUserID string) {
	var req setRoleRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.svc.SetRole(r.Context(), targetUserID, req.Role); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "role updated"})
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request, targetUserID string) {
	var req setActiveRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.svc.SetActive(r.Context(), targetUserID, req.Active); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "active flag updated"})
}

func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	e, err := h.svc.CreateEntity(r.Context(), req.Name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, e)
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request, entityID string) {
	var req memberRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.svc.AddToEntity(r.Context(), entityID, req.UserID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "member added"})
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request, entityID, userID string) {
	if err := h.svc.RemoveFromEntity(r.Context(), entityID, userID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "member removed"})
}
