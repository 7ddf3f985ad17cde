package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Mmx233/ChatRelay/protocol"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session cache keys and lifetimes, matching the browser cookies.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"

	AccessTokenTTL  = 24 * time.Hour
	RefreshTokenTTL = 7 * 24 * time.Hour
	UserTTL         = 7 * 24 * time.Hour
)

type cacheEntry struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
}

// SessionCache keeps tokens and the logged-in profile between runs. Every
// entry carries its own expiry. An empty path keeps entries in memory only.
type SessionCache struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// LoadSessionCache reads the cache at path. A missing file yields an empty cache.
func LoadSessionCache(path string) (*SessionCache, error) {
	c := &SessionCache{
		path:    path,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session cache: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.entries); err != nil {
			return nil, fmt.Errorf("parse session cache: %w", err)
		}
	}
	return c, nil
}

// Get returns a live entry. Expired entries are dropped.
func (c *SessionCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.now().Before(e.Expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.Value, true
}

func (c *SessionCache) Set(key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{Value: value, Expires: c.now().Add(ttl)}
}

func (c *SessionCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// SetTokens stores a fresh token pair.
func (c *SessionCache) SetTokens(tokens protocol.Tokens) {
	c.Set(KeyAccessToken, tokens.AccessToken, AccessTokenTTL)
	c.Set(KeyRefreshToken, tokens.RefreshToken, RefreshTokenTTL)
}

func (c *SessionCache) AccessToken() (string, bool) {
	return c.Get(KeyAccessToken)
}

func (c *SessionCache) RefreshToken() (string, bool) {
	return c.Get(KeyRefreshToken)
}

// SetUser stores the profile as JSON.
func (c *SessionCache) SetUser(user protocol.UserProfile) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	c.Set(KeyUser, string(data), UserTTL)
	return nil
}

// User returns the cached profile, if any.
func (c *SessionCache) User() (*protocol.UserProfile, bool) {
	raw, ok := c.Get(KeyUser)
	if !ok {
		return nil, false
	}
	var user protocol.UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		c.Delete(KeyUser)
		return nil, false
	}
	return &user, true
}

// Logout forgets every entry.
func (c *SessionCache) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Save writes live entries to disk, replacing the file atomically.
func (c *SessionCache) Save() error {
	if c.path == "" {
		return nil
	}

	c.mu.Lock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.Expires) {
			delete(c.entries, k)
		}
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode session cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("write session cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session cache: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write session cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("write session cache: %w", err)
	}
	return nil
}
