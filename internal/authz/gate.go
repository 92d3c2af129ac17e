// Package authz is the single access-decision point. Policy is
// two-tier: profile data belongs to its owner alone, while financial
// data (balances, transactions, trades) is visible to every member of
// the owner's entity. Only admins cross entity boundaries.
package authz

import (
	"log/slog"

	"fx-ledger/internal/apperr"
	"fx-ledger/internal/types"
)

type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

type ResourceKind string

const (
	KindProfile     ResourceKind = "profile"
	KindBalance     ResourceKind = "balance"
	KindTransaction ResourceKind = "transaction"
	KindTrade       ResourceKind = "trade"
)

// Resource identifies what the caller wants to touch. OwnerEntityIDs
// are the entities of the resource's owning user, resolved by the
// caller before asking for a decision.
type Resource struct {
	Kind           ResourceKind
	ID             string
	OwnerID        string
	OwnerEntityIDs []string
}

const (
	ReasonCrossEntity = "cross_entity"
	ReasonNotOwner    = "not_owner"
	ReasonReadOnly    = "read_only_role"
)

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Err maps a deny decision onto the error taxonomy.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonNotOwner, ReasonReadOnly:
		return apperr.ErrNotOwner
	default:
		return apperr.ErrCrossEntity
	}
}

type Gate struct {
	logger *slog.Logger
}

func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{logger: logger}
}

// Authorize resolves the caller's scope for the resource. Every deny is
// logged with enough detail to audit who was refused what and why.
func (g *Gate) Authorize(p types.Principal, action Action, res Resource) Decision {
	d := decide(p, action, res)
	if !d.Allowed {
		g.logger.Warn("authorization denied",
			"caller_id", p.UserID,
			"caller_role", string(p.Role),
			"action", string(action),
			"resource_kind", string(res.Kind),
			"resource_id", res.ID,
			"resource_owner", res.OwnerID,
			"reason", d.Reason,
		)
	}
	return d
}

func decide(p types.Principal, action Action, res Resource) Decision {
	if p.Role == types.RoleAdmin {
		return allow()
	}

	if p.UserID != res.OwnerID && !sharesEntity(p, res.OwnerEntityIDs) {
		return deny(ReasonCrossEntity)
	}

	if res.Kind == KindProfile {
		if p.UserID != res.OwnerID {
			return deny(ReasonNotOwner)
		}
		return allow()
	}

	// Financial resources: every entity member may read; writing needs
	// the trader role.
	if action == ActionWrite && p.Role != types.RoleTrader {
		return deny(ReasonReadOnly)
	}
	return allow()
}

func sharesEntity(p types.Principal, entityIDs []string) bool {
	for _, id := range entityIDs {
		if p.MemberOf(id) {
			return true
		}
	}
	return false
}
