package authz

import (
	"errors"
	"log/slog"
	"testing"

	"fx-ledger/internal/apperr"
	"fx-ledger/internal/types"
)

func principal(id string, role types.Role, entities ...string) types.Principal {
	return types.Principal{UserID: id, Role: role, EntityIDs: entities}
}

func balanceOf(owner string, entities ...string) Resource {
	return Resource{Kind: KindBalance, ID: "bal-1", OwnerID: owner, OwnerEntityIDs: entities}
}

func TestAdminCrossesEntities(t *testing.T) {
	gate := NewGate(slog.Default())
	admin := principal("a1", types.RoleAdmin)

	for _, action := range []Action{ActionRead, ActionWrite} {
		d := gate.Authorize(admin, action, balanceOf("u2", "ent-other"))
		if !d.Allowed {
			t.Fatalf("admin %s denied: %s", action, d.Reason)
		}
	}
}

func TestViewerReadsButCannotWriteEntityBalance(t *testing.T) {
	gate := NewGate(slog.Default())
	viewer := principal("v1", types.RoleViewer, "ent-e")
	res := balanceOf("u2", "ent-e")

	if d := gate.Authorize(viewer, ActionRead, res); !d.Allowed {
		t.Fatalf("viewer read denied: %s", d.Reason)
	}
	d := gate.Authorize(viewer, ActionWrite, res)
	if d.Allowed {
		t.Fatal("viewer write should be denied")
	}
	if d.Reason != ReasonReadOnly {
		t.Fatalf("expected read_only_role, got %s", d.Reason)
	}
}

func TestTraderBlockedAcrossEntities(t *testing.T) {
	gate := NewGate(slog.Default())
	trader := principal("t1", types.RoleTrader, "ent-e")
	res := balanceOf("u9", "ent-f")

	for _, action := range []Action{ActionRead, ActionWrite} {
		d := gate.Authorize(trader, action, res)
		if d.Allowed {
			t.Fatalf("trader %s across entities should be denied", action)
		}
		if d.Reason != ReasonCrossEntity {
			t.Fatalf("expected cross_entity, got %s", d.Reason)
		}
	}
}

func TestProfileIsOwnerOnly(t *testing.T) {
	gate := NewGate(slog.Default())
	trader := principal("t1", types.RoleTrader, "ent-e")
	peerProfile := Resource{Kind: KindProfile, ID: "u2", OwnerID: "u2", OwnerEntityIDs: []string{"ent-e"}}

	d := gate.Authorize(trader, ActionRead, peerProfile)
	if d.Allowed {
		t.Fatal("peer profile read should be denied")
	}
	if d.Reason != ReasonNotOwner {
		t.Fatalf("expected not_owner, got %s", d.Reason)
	}

	own := Resource{Kind: KindProfile, ID: "t1", OwnerID: "t1", OwnerEntityIDs: []string{"ent-e"}}
	if d := gate.Authorize(trader, ActionWrite, own); !d.Allowed {
		t.Fatalf("own profile write denied: %s", d.Reason)
	}
}

func TestOwnFinancialDataWithoutEntity(t *testing.T) {
	gate := NewGate(slog.Default())
	trader := principal("t1", types.RoleTrader)

	if d := gate.Authorize(trader, ActionWrite, balanceOf("t1")); !d.Allowed {
		t.Fatalf("own balance write denied: %s", d.Reason)
	}
}

func TestDecisionErrMapping(t *testing.T) {
	if err := allow().Err(); err != nil {
		t.Fatalf("allow mapped to error: %v", err)
	}
	if err := deny(ReasonCrossEntity).Err(); !errors.Is(err, apperr.ErrCrossEntity) {
		t.Fatalf("expected ErrCrossEntity, got %v", err)
	}
	if err := deny(ReasonNotOwner).Err(); !errors.Is(err, apperr.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := deny(ReasonReadOnly).Err(); !errors.Is(err, apperr.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}
