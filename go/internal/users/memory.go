package users

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// MemoryRepository is an in-process user store and presence store for
// development and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]models.User)}
}

func (m *MemoryRepository) CreateUser(ctx context.Context, user models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Username]; ok {
		return nil, ErrUserExists
	}
	user.CreatedAt = time.Now().UTC()
	m.users[user.Username] = user
	return &user, nil
}

func (m *MemoryRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("%s: %w", username, ErrUserNotFound)
	}
	return &user, nil
}

func (m *MemoryRepository) ListUsers(ctx context.Context) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.User, 0, len(m.users))
	for _, user := range m.users {
		user := user
		out = append(out, &user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *MemoryRepository) UpdateLocation(ctx context.Context, username string, lat, lng float64) error {
	return m.update(username, func(u *models.User) {
		u.Latitude, u.Longitude = lat, lng
	})
}

func (m *MemoryRepository) SetUserLoggedIn(ctx context.Context, username string, loggedIn bool) error {
	return m.update(username, func(u *models.User) {
		u.LoggedIn = loggedIn
	})
}

func (m *MemoryRepository) OnlineUsers(ctx context.Context) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	online := make(map[string]bool)
	for name, u := range m.users {
		if u.LoggedIn {
			online[name] = true
		}
	}
	return online, nil
}

func (m *MemoryRepository) update(username string, fn func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return fmt.Errorf("%s: %w", username, ErrUserNotFound)
	}
	fn(&user)
	m.users[username] = user
	return nil
}
