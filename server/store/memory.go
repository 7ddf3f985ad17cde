package store

import (
	"context"
	"sync"
)

// Memory is an in-process UserStore.
type Memory struct {
	mu    sync.RWMutex
	users map[string]User
}

var _ UserStore = (*Memory)(nil)

func NewMemory(seed ...User) *Memory {
	m := &Memory{users: make(map[string]User, len(seed))}
	for _, u := range seed {
		m.users[u.Email] = u
	}
	return m
}

func (m *Memory) Get(ctx context.Context, email string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[email]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) Put(ctx context.Context, user *User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[user.Email] = *user
	return nil
}
