package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"

	"github.com/jmoiron/sqlx"
)

// UserStore is the user directory and FCM token store
type UserStore struct {
	db *sqlx.DB
}

// NewUserStore creates a store over db
func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, u models.User) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, name, role, created_at, updated_at)
		VALUES (:id, :email, :name, :role, :created_at, :updated_at)
	`, u)
	if isUniqueViolation(err) {
		return errs.Conflict("user with this email already exists", "user:"+u.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *UserStore) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, errs.NotFound("user:" + id)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

func (s *UserStore) ListUsers(ctx context.Context, role string) ([]models.User, error) {
	users := []models.User{}
	err := s.db.SelectContext(ctx, &users, `SELECT * FROM users WHERE ($1 = '' OR role = $1) ORDER BY name`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *UserStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, err
	}
	return count, nil
}

// ResolveDriver matches a driver by id, then by case-insensitive name.
// Ambiguous names do not resolve.
func (s *UserStore) ResolveDriver(ctx context.Context, ref string) (string, bool, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE role = 'driver' AND id = $1`, ref)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve driver: %w", err)
	}
	if len(ids) == 1 {
		return ids[0], true, nil
	}

	var byName []string
	err = s.db.SelectContext(ctx, &byName, `
		SELECT id FROM users WHERE role = 'driver' AND LOWER(TRIM(name)) = LOWER(TRIM($1)) LIMIT 2
	`, ref)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve driver: %w", err)
	}
	if len(byName) != 1 {
		return "", false, nil
	}
	return byName[0], true, nil
}

// SaveToken stores an FCM token, refreshing an identical one
func (s *UserStore) SaveToken(ctx context.Context, t models.FCMToken) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES (:user_id, :token, :device_type, :created_at, :updated_at)
		ON CONFLICT (user_id, token) DO UPDATE
		SET device_type = EXCLUDED.device_type, updated_at = EXCLUDED.updated_at
	`, t)
	if err != nil {
		return fmt.Errorf("failed to save fcm token: %w", err)
	}
	return nil
}

func (s *UserStore) TokensForUser(ctx context.Context, userID string) ([]string, error) {
	tokens := []string{}
	if err := s.db.SelectContext(ctx, &tokens, `SELECT token FROM fcm_tokens WHERE user_id = $1 ORDER BY updated_at DESC`, userID); err != nil {
		return nil, fmt.Errorf("failed to load fcm tokens: %w", err)
	}
	return tokens, nil
}
