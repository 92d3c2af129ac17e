// Package users manages user lifecycle and entity membership. Users are
// never hard-deleted; deactivation flips is_active so the ledger history
// stays attached.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"fx-ledger/internal/apperr"
	"fx-ledger/internal/types"
)

type User struct {
	ID                 string     `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	Role               types.Role `json:"role"`
	IsActive           bool       `json:"is_active"`
	IsVerified         bool       `json:"is_verified"`
	MustChangePassword bool       `json:"must_change_password"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	EntityIDs          []string   `json:"entity_ids"`
}

type Entity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

type CreateParams struct {
	Username string
	Email    string
	Password string
	Role     types.Role
	// Admin-provisioned users must rotate the password on first login.
	ForcePasswordChange bool
}

func (s *Service) Create(ctx context.Context, p CreateParams) (User, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.Username == "" {
		return User{}, apperr.Validation("username", "is required")
	}
	if p.Email == "" {
		return User{}, apperr.Validation("email", "is required")
	}
	if len(p.Password) < 8 {
		return User{}, apperr.Validation("password", "must be at least 8 characters")
	}
	if p.Role == "" {
		p.Role = types.RoleTrader
	}
	if !types.ValidRole(p.Role) {
		return User{}, apperr.Validation("role", "must be viewer, trader or admin")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	var u User
	err = s.pool.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, role, must_change_password)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, email, role, is_active, is_verified, must_change_password, created_at
	`, p.Username, p.Email, string(hash), string(p.Role), p.ForcePasswordChange).Scan(
		&u.ID, &u.Username, &u.Email, &u.Role, &u.IsActive, &u.IsVerified, &u.MustChangePassword, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	u.EntityIDs = []string{}
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, email, role, is_active, is_verified, must_change_password, last_login_at, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.IsActive, &u.IsVerified, &u.MustChangePassword, &u.LastLoginAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, apperr.Rejectedf(apperr.ErrNotFound, "user %s", id)
		}
		return User{}, err
	}
	u.EntityIDs, err = s.EntityIDs(ctx, u.ID)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// Credentials returns what the auth layer needs to verify a login. The
// lookup accepts username or email.
func (s *Service) Credentials(ctx context.Context, login string) (User, string, error) {
	login = strings.TrimSpace(login)
	var u User
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, email, role, is_active, is_verified, must_change_password, last_login_at, created_at, password_hash
		FROM users
		WHERE username = $1 OR email = lower($1)
	`, login).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.IsActive, &u.IsVerified, &u.MustChangePassword, &u.LastLoginAt, &u.CreatedAt, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, "", apperr.Rejectedf(apperr.ErrNotFound, "user %s", login)
		}
		return User{}, "", err
	}
	u.EntityIDs, err = s.EntityIDs(ctx, u.ID)
	if err != nil {
		return User{}, "", err
	}
	return u, hash, nil
}

func (s *Service) TouchLastLogin(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET last_login_at = NOW(), updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

func (s *Service) SetRole(ctx context.Context, id string, role types.Role) error {
	if !types.ValidRole(role) {
		return apperr.Validation("role", "must be viewer, trader or admin")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2
	`, string(role), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Rejectedf(apperr.ErrNotFound, "user %s", id)
	}
	return nil
}

func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2
	`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Rejectedf(apperr.ErrNotFound, "user %s", id)
	}
	return nil
}

// ChangePassword verifies the current password, stores the new hash and
// clears the forced-change flag.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	if len(next) < 8 {
		return apperr.Validation("password", "must be at least 8 characters")
	}
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, id).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Rejectedf(apperr.ErrNotFound, "user %s", id)
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(current)); err != nil {
		return apperr.Validation("current_password", "does not match")
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $1, must_change_password = FALSE, updated_at = NOW()
		WHERE id = $2
	`, string(newHash), id)
	return err
}

func (s *Service) CreateEntity(ctx context.Context, name string) (Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Entity{}, apperr.Validation("name", "is required")
	}
	var e Entity
	err := s.pool.QueryRow(ctx, `
		INSERT INTO entities (name) VALUES ($1) RETURNING id, name, created_at
	`, name).Scan(&e.ID, &e.Name, &e.CreatedAt)
	if err != nil {
		return Entity{}, err
	}
	return e, nil
}

func (s *Service) AddToEntity(ctx context.Context, entityID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_members (entity_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (entity_id, user_id) DO NOTHING
	`, entityID, userID)
	return err
}

func (s *Service) RemoveFromEntity(ctx context.Context, entityID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM entity_members WHERE entity_id = $1 AND user_id = $2
	`, entityID, userID)
	return err
}

func (s *Service) EntityIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id FROM entity_members WHERE user_id = $1 ORDER BY entity_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
