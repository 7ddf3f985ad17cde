package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"
)

// testConfig is a simple struct for testing the generic loader
type testConfig struct {
	Name    string `yaml:"name"`
	Port    int    `yaml:"port"`
	Enabled bool   `yaml:"enabled"`
}

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadConfig_Success(t *testing.T) {
	configPath := writeConfig(t, `name: test-service
port: 8080
enabled: true
`)

	cfg, err := LoadConfig[testConfig](configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Name != "test-service" {
		t.Errorf("expected Name 'test-service', got '%s'", cfg.Name)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected Port 8080, got %d", cfg.Port)
	}
	if !cfg.Enabled {
		t.Errorf("expected Enabled true, got false")
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig[testConfig]("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
	if !strings.Contains(err.Error(), "read config file") {
		t.Errorf("expected error to contain 'read config file', got: %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `name: [invalid yaml
port: not closed`)

	_, err := LoadConfig[testConfig](configPath)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
	if !strings.Contains(err.Error(), "parse config") {
		t.Errorf("expected error to contain 'parse config', got: %v", err)
	}
}

func TestLoadConfig_RoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		original := testConfig{
			Name:    rapid.StringMatching(`[a-z0-9_-]{1,20}`).Draw(rt, "name"),
			Port:    rapid.IntRange(0, 65535).Draw(rt, "port"),
			Enabled: rapid.Bool().Draw(rt, "enabled"),
		}

		yamlData, err := yaml.Marshal(&original)
		if err != nil {
			rt.Fatalf("failed to marshal config: %v", err)
		}
		configPath := writeConfig(t, string(yamlData))

		loaded, err := LoadConfig[testConfig](configPath)
		if err != nil {
			rt.Fatalf("LoadConfig failed: %v", err)
		}
		if *loaded != original {
			rt.Fatalf("round trip mismatch: got %+v, want %+v", *loaded, original)
		}
	})
}

func TestLoadServerConfig_Minimal(t *testing.T) {
	configPath := writeConfig(t, `auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := LoadServerConfig(configPath)
	if err != nil {
		t.Fatalf("LoadServerConfig failed: %v", err)
	}

	if cfg.Listen != DefaultListenAddr {
		t.Errorf("expected Listen %q, got %q", DefaultListenAddr, cfg.Listen)
	}
	if cfg.WebSocket.Path != DefaultWebSocketPath {
		t.Errorf("expected websocket path %q, got %q", DefaultWebSocketPath, cfg.WebSocket.Path)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Errorf("expected store driver %q, got %q", StoreDriverMemory, cfg.Store.Driver)
	}
	if cfg.Auth.AccessTTL != 15*time.Minute {
		t.Errorf("expected access ttl 15m, got %v", cfg.Auth.AccessTTL)
	}
}

func TestLoadServerConfig_Full(t *testing.T) {
	configPath := writeConfig(t, `listen: "127.0.0.1:9000"
websocket:
  path: "/chat"
  read_limit: 4096
  write_wait: 5s
  pong_wait: 30s
  send_buffer: 16
handshake_timeout: 3s
protocol:
  reply_unknown_action: true
rate_limit:
  frames_per_second: 5
auth:
  jwt_secret: "`+testSecret+`"
  issuer: "test"
  access_ttl: 1m
  refresh_ttl: 1h
store:
  driver: dynamodb
  table: Users
  region: eu-west-1
blob:
  driver: s3
  bucket: avatars
  region: eu-west-1
mail:
  driver: resend
  api_key: re_test
presence:
  queue_size: 8
  redis:
    addr: "localhost:6379"
    channel: "presence"
metrics:
  enabled: true
`)

	cfg, err := LoadServerConfig(configPath)
	if err != nil {
		t.Fatalf("LoadServerConfig failed: %v", err)
	}

	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("unexpected listen %q", cfg.Listen)
	}
	if cfg.WebSocket.Path != "/chat" || cfg.WebSocket.SendBuffer != 16 {
		t.Errorf("unexpected websocket section %+v", cfg.WebSocket)
	}
	if cfg.WebSocket.PingPeriod() != 27*time.Second {
		t.Errorf("expected ping period 27s, got %v", cfg.WebSocket.PingPeriod())
	}
	if !cfg.Protocol.ReplyUnknownAction {
		t.Error("expected reply_unknown_action true")
	}
	if cfg.RateLimit.Burst != DefaultFrameBurst {
		t.Errorf("expected default burst %d, got %d", DefaultFrameBurst, cfg.RateLimit.Burst)
	}
	if cfg.Store.Table != "Users" || cfg.Blob.Bucket != "avatars" {
		t.Errorf("unexpected backends: store=%+v blob=%+v", cfg.Store, cfg.Blob)
	}
	if cfg.Mail.From != DefaultMailFrom {
		t.Errorf("expected default mail from %q, got %q", DefaultMailFrom, cfg.Mail.From)
	}
	if cfg.Presence.Redis.Addr != "localhost:6379" || cfg.Presence.QueueSize != 8 {
		t.Errorf("unexpected presence section %+v", cfg.Presence)
	}
}

func TestLoadServerConfig_SecretFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"JWT_SECRET", testSecret)
	configPath := writeConfig(t, "listen: \":0\"\n")

	cfg, err := LoadServerConfig(configPath)
	if err != nil {
		t.Fatalf("LoadServerConfig failed: %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("expected secret from environment, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadServerConfig_MissingSecret(t *testing.T) {
	configPath := writeConfig(t, "listen: \":8080\"\n")

	_, err := LoadServerConfig(configPath)
	if err == nil {
		t.Fatal("expected error for missing jwt secret")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("expected error to mention jwt_secret, got: %v", err)
	}
}

func TestLoadClientConfig_Success(t *testing.T) {
	configPath := writeConfig(t, `url: "ws://localhost:8080/ws"
email: "alice@example.com"
reconnect:
  max_attempts: 3
`)

	cfg, err := LoadClientConfig(configPath)
	if err != nil {
		t.Fatalf("LoadClientConfig failed: %v", err)
	}

	if cfg.Email != "alice@example.com" {
		t.Errorf("unexpected email %q", cfg.Email)
	}
	if cfg.Reconnect.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Reconnect.BaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("expected base delay %v, got %v", DefaultReconnectBaseDelay, cfg.Reconnect.BaseDelay)
	}
	if cfg.SessionFile != DefaultSessionFile {
		t.Errorf("expected session file %q, got %q", DefaultSessionFile, cfg.SessionFile)
	}
}

func TestLoadClientConfig_BadScheme(t *testing.T) {
	configPath := writeConfig(t, "url: \"http://localhost:8080/ws\"\n")

	_, err := LoadClientConfig(configPath)
	if err == nil {
		t.Fatal("expected error for http scheme")
	}
	if !strings.Contains(err.Error(), "ws or wss") {
		t.Errorf("unexpected error: %v", err)
	}
}
