// Package auth issues and verifies the bearer tokens that carry a
// caller's identity. Tokens embed the role and entity memberships held
// at login time; a role change takes effect on the next login.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"fx-ledger/internal/apperr"
	"fx-ledger/internal/types"
	"fx-ledger/internal/users"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserDisabled       = errors.New("user is deactivated")
)

type Service struct {
	userSvc *users.Service
	issuer  string
	secret  []byte
	ttl     time.Duration
}

func NewService(userSvc *users.Service, issuer string, secret []byte, ttl time.Duration) *Service {
	return &Service{userSvc: userSvc, issuer: issuer, secret: secret, ttl: ttl}
}

type claims struct {
	Role      string   `json:"role"`
	EntityIDs []string `json:"entity_ids,omitempty"`
	jwt.RegisteredClaims
}

type Session struct {
	Token              string     `json:"token"`
	ExpiresAt          time.Time  `json:"expires_at"`
	User               users.User `json:"user"`
	MustChangePassword bool       `json:"must_change_password"`
}

func (s *Service) Register(ctx context.Context, username, email, password string) (users.User, error) {
	return s.userSvc.Create(ctx, users.CreateParams{
		Username: username,
		Email:    email,
		Password: password,
		Role:     types.RoleTrader,
	})
}

// Login verifies the password and returns a signed session. Lookup
// failures and bad passwords collapse into one error so the response
// does not reveal which usernames exist.
func (s *Service) Login(ctx context.Context, login, password string) (Session, error) {
	u, hash, err := s.userSvc.Credentials(ctx, login)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return Session{}, ErrUserDisabled
	}

	token, expires, err := s.signToken(u)
	if err != nil {
		return Session{}, err
	}
	if err := s.userSvc.TouchLastLogin(ctx, u.ID); err != nil {
		return Session{}, err
	}
	return Session{
		Token:              token,
		ExpiresAt:          expires,
		User:               u,
		MustChangePassword: u.MustChangePassword,
	}, nil
}

func (s *Service) signToken(u users.User) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(s.ttl)
	c := claims{
		Role:      string(u.Role),
		EntityIDs: u.EntityIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ParseToken verifies the signature and returns the caller principal
// embedded in the token.
func (s *Service) ParseToken(token string) (types.Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return types.Principal{}, ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return types.Principal{}, ErrInvalidToken
	}
	if c.Issuer != s.issuer || c.Subject == "" {
		return types.Principal{}, ErrInvalidToken
	}
	role := types.Role(c.Role)
	if !types.ValidRole(role) {
		return types.Principal{}, ErrInvalidToken
	}
	return types.Principal{UserID: c.Subject, Role: role, EntityIDs: c.EntityIDs}, nil
}
