package blob

import (
	"context"
	"strings"
	"sync"
)

type object struct {
	body        []byte
	contentType string
}

// Memory keeps objects in process and serves them under BaseURL.
type Memory struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]object
}

var _ Store = (*Memory)(nil)

func NewMemory(baseURL string) *Memory {
	return &Memory{
		BaseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]object),
	}
}

func (m *Memory) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = object{body: append([]byte(nil), body...), contentType: contentType}
	return m.BaseURL + "/" + key, nil
}

// Get returns a stored object.
func (m *Memory) Get(key string) (body []byte, contentType string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	return obj.body, obj.contentType, ok
}
