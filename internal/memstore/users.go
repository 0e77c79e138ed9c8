package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"
)

// UserStore is the in-memory driver/dispatcher directory plus FCM tokens
type UserStore struct {
	mu     sync.RWMutex
	users  map[string]models.User
	tokens map[string][]models.FCMToken // userID -> tokens
}

// NewUserStore creates an empty directory
func NewUserStore() *UserStore {
	return &UserStore{
		users:  make(map[string]models.User),
		tokens: make(map[string][]models.FCMToken),
	}
}

func (s *UserStore) CreateUser(ctx context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return errs.Conflict("user with this email already exists", "user:"+existing.ID)
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *UserStore) GetUser(ctx context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, errs.NotFound("user:" + id)
	}
	return u, nil
}

func (s *UserStore) ListUsers(ctx context.Context, role string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.User{}
	for _, u := range s.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *UserStore) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// ResolveDriver matches a driver by id, then by case-insensitive name.
// Ambiguous names do not resolve.
func (s *UserStore) ResolveDriver(ctx context.Context, ref string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[ref]; ok && u.Role == models.RoleDriver {
		return u.ID, true, nil
	}
	match := ""
	for _, u := range s.users {
		if u.Role != models.RoleDriver || !strings.EqualFold(strings.TrimSpace(u.Name), ref) {
			continue
		}
		if match != "" {
			return "", false, nil
		}
		match = u.ID
	}
	return match, match != "", nil
}

// SaveToken stores an FCM token, replacing an identical one
func (s *UserStore) SaveToken(ctx context.Context, t models.FCMToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.tokens[t.UserID]
	for i, existing := range list {
		if existing.Token == t.Token {
			list[i] = t
			return nil
		}
	}
	t.ID = len(list) + 1
	s.tokens[t.UserID] = append(list, t)
	return nil
}

func (s *UserStore) TokensForUser(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tokens[userID]))
	for _, t := range s.tokens[userID] {
		out = append(out, t.Token)
	}
	return out, nil
}
