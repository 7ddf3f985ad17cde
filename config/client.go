package config

import (
	"fmt"
	"net/url"
	"time"
)

type Client struct {
	URL            string        `yaml:"url"`             // ws:// or wss:// endpoint of the server
	Email          string        `yaml:"email"`           // Identity to log in with
	SessionFile    string        `yaml:"session_file"`    // Where tokens are kept between runs
	RequestTimeout time.Duration `yaml:"request_timeout"` // Wait limit for a response frame, default 15s
	Reconnect      Reconnect     `yaml:"reconnect"`
}

type Reconnect struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ApplyDefaults fills zero-value fields with defaults.
func (c *Client) ApplyDefaults() {
	if c.SessionFile == "" {
		c.SessionFile = DefaultSessionFile
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	c.Reconnect.ApplyDefaults()
}

// ApplyDefaults fills zero-value fields with defaults.
func (r *Reconnect) ApplyDefaults() {
	if r.BaseDelay == 0 {
		r.BaseDelay = DefaultReconnectBaseDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = DefaultReconnectMaxDelay
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = DefaultMaxReconnectAttempts
	}
}

// Validate checks the reconnect policy.
func (r Reconnect) Validate() error {
	if r.BaseDelay <= 0 {
		return fmt.Errorf("reconnect base_delay must be positive, got %v", r.BaseDelay)
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("reconnect max_delay (%v) must not be shorter than base_delay (%v)", r.MaxDelay, r.BaseDelay)
	}
	if r.MaxAttempts < 0 {
		return fmt.Errorf("reconnect max_attempts cannot be negative, got %d", r.MaxAttempts)
	}
	return nil
}

// ValidateURL checks that the server URL is an absolute WebSocket URL.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host cannot be empty in url %q", raw)
	}
	return nil
}

// Validate checks the configuration after defaults have been applied.
func (c *Client) Validate() error {
	if err := ValidateURL(c.URL); err != nil {
		return err
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative")
	}
	if err := c.Reconnect.Validate(); err != nil {
		return err
	}
	return nil
}
