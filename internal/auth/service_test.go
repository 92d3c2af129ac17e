package auth

import (
	"testing"
	"time"

	"fx-ledger/internal/types"
	"fx-ledger/internal/users"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService(nil, "fx-ledger", []byte("test-secret"), time.Hour)
	u := users.User{ID: "u1", Role: types.RoleTrader, EntityIDs: []string{"e1", "e2"}}

	token, expires, err := svc.signToken(u)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("expiry %v is not in the future", expires)
	}

	p, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.UserID != "u1" || p.Role != types.RoleTrader {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if len(p.EntityIDs) != 2 || !p.MemberOf("e2") {
		t.Fatalf("entity ids lost: %+v", p.EntityIDs)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	signer := NewService(nil, "fx-ledger", []byte("secret-a"), time.Hour)
	verifier := NewService(nil, "fx-ledger", []byte("secret-b"), time.Hour)

	token, _, err := signer.signToken(users.User{ID: "u1", Role: types.RoleViewer})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatal("expected rejection for mismatched secret")
	}
}

func TestParseTokenRejectsWrongIssuer(t *testing.T) {
	signer := NewService(nil, "other-service", []byte("s"), time.Hour)
	verifier := NewService(nil, "fx-ledger", []byte("s"), time.Hour)

	token, _, err := signer.signToken(users.User{ID: "u1", Role: types.RoleViewer})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatal("expected rejection for wrong issuer")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	svc := NewService(nil, "fx-ledger", []byte("s"), -time.Minute)
	token, _, err := svc.signToken(users.User{ID: "u1", Role: types.RoleViewer})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ParseToken(token); err == nil {
		t.Fatal("expected rejection for expired token")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	svc := NewService(nil, "fx-ledger", []byte("s"), time.Hour)
	if _, err := svc.ParseToken("not.a.token"); err == nil {
		t.Fatal("expected rejection")
	}
}
