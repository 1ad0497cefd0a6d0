package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
	"github.com/joho/godotenv"
	"github.com/tphan267/supportcall/pkg/utils"
	"go.yaml.in/yaml/v3"
)

const (
	RelayMemory    = "memory"
	RelayWebSocket = "websocket"
	RelayRedis     = "redis"
)

var cfg *Config

// RelayConfig selects and configures the signaling relay
type RelayConfig struct {
	Backend       string `yaml:"backend"` // "memory", "websocket" or "redis"
	URL           string `yaml:"url"`
	APIKey        string `yaml:"api_key"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// CallConfig holds call session timing
type CallConfig struct {
	AnswerTimeout string `yaml:"answer_timeout"`
	TickInterval  string `yaml:"tick_interval"`
	ManualAnswer  bool   `yaml:"manual_answer"`
}

// ICEServer is one STUN/TURN server
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// AuthConfig configures identity tokens
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  string `yaml:"token_ttl"`
	DevLogin  bool   `yaml:"dev_login"`
}

// Config holds the application configuration
type Config struct {
	PeerID     string `yaml:"peer_id"`  // Relay endpoint id (auto-generated if not set)
	Identity   string `yaml:"identity"` // Caller identity used for headless operation
	Room       string `yaml:"room"`     // Room attached at start, optional
	DBPath     string `yaml:"db_path"`
	ServerAddr string `yaml:"server_addr"`
	LogLevel   string `yaml:"log_level"`

	Relay      RelayConfig `yaml:"relay"`
	Call       CallConfig  `yaml:"call"`
	ICEServers []ICEServer `yaml:"ice_servers"`
	Auth       AuthConfig  `yaml:"auth"`

	Version string `yaml:"-"`

	mu   sync.Mutex `yaml:"-"`
	file string     `yaml:"-"`
}

func (c *Config) GetServerPort() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := strings.Split(c.ServerAddr, ":")
	return parts[len(parts)-1]
}

// AnswerTimeout returns the missed-call window
func (c *Config) AnswerTimeout() time.Duration {
	return parseDuration(c.Call.AnswerTimeout, 90*time.Second)
}

// TickInterval returns the duration tick period
func (c *Config) TickInterval() time.Duration {
	return parseDuration(c.Call.TickInterval, time.Second)
}

// TokenTTL returns the lifetime of issued tokens
func (c *Config) TokenTTL() time.Duration {
	return parseDuration(c.Auth.TokenTTL, 24*time.Hour)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Save writes the current configuration back to the file
func (c *Config) Save() error {
	if c.file == "" {
		return fmt.Errorf("config file path is not set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	err = os.WriteFile(c.file, data, 0o600)
	if err != nil {
		return err
	}

	return nil
}

// EnsureDefaultConfig applies env overrides and sets default values for missing config fields
func (c *Config) EnsureDefaultConfig(save bool) error {
	changed := false
	c.mu.Lock()

	// Env overrides
	if identity := utils.Env("SUPPORTCALL_IDENTITY", ""); identity != "" {
		c.Identity = identity
	}

	if room := utils.Env("SUPPORTCALL_ROOM", ""); room != "" {
		c.Room = room
	}

	if backend := utils.Env("SUPPORTCALL_RELAY_BACKEND", ""); backend != "" {
		c.Relay.Backend = backend
	}

	if relayURL := utils.Env("SUPPORTCALL_RELAY_URL", ""); relayURL != "" {
		c.Relay.URL = relayURL
	}

	if apiKey := utils.Env("SUPPORTCALL_API_KEY", ""); apiKey != "" {
		c.Relay.APIKey = apiKey
	}

	if redisAddr := utils.Env("SUPPORTCALL_REDIS_ADDR", ""); redisAddr != "" {
		c.Relay.RedisAddr = redisAddr
	}

	if redisPassword := utils.Env("SUPPORTCALL_REDIS_PASSWORD", ""); redisPassword != "" {
		c.Relay.RedisPassword = redisPassword
	}

	if secret := utils.Env("SUPPORTCALL_JWT_SECRET", ""); secret != "" {
		c.Auth.JWTSecret = secret
	}

	if logLevel := utils.Env("SUPPORTCALL_LOG_LEVEL", ""); logLevel != "" {
		c.LogLevel = logLevel
	}

	c.Auth.DevLogin = utils.EnvBool("SUPPORTCALL_DEV_LOGIN", c.Auth.DevLogin)

	// Create defaults
	if c.PeerID == "" {
		peerID, _ := utils.GenerateID()
		c.PeerID = peerID
		changed = true
	}

	if c.DBPath == "" {
		dir := filepath.Dir(c.file)
		c.DBPath = dir + "/supportcall.db"
		changed = true
	}

	if c.ServerAddr == "" {
		c.ServerAddr = ":3030"
		changed = true
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
		changed = true
	}

	if c.Relay.Backend == "" {
		c.Relay.Backend = RelayMemory
		if c.Relay.URL != "" {
			c.Relay.Backend = RelayWebSocket
		}
		changed = true
	}

	if c.Call.AnswerTimeout == "" {
		c.Call.AnswerTimeout = "90s"
		changed = true
	}

	if c.Call.TickInterval == "" {
		c.Call.TickInterval = "1s"
		changed = true
	}

	if len(c.ICEServers) == 0 {
		c.ICEServers = []ICEServer{{URLs: []string{"stun:stun1.l.google.com:19302"}}}
		changed = true
	}

	if c.Auth.JWTSecret == "" {
		secret, _ := utils.GenerateRandomString(32)
		c.Auth.JWTSecret = secret
		changed = true
	}

	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = "24h"
		changed = true
	}

	c.mu.Unlock()

	if changed && save {
		return c.Save()
	}
	return nil
}

// Validate checks that the selected relay backend is usable
func (c *Config) Validate() error {
	switch c.Relay.Backend {
	case RelayMemory:
	case RelayWebSocket:
		if c.Relay.URL == "" {
			return fmt.Errorf("relay backend %q requires relay.url", c.Relay.Backend)
		}
	case RelayRedis:
		if c.Relay.RedisAddr == "" {
			return fmt.Errorf("relay backend %q requires relay.redis_addr", c.Relay.Backend)
		}
	default:
		return fmt.Errorf("unknown relay backend %q", c.Relay.Backend)
	}
	return nil
}

// ConfigInstance returns the global config instance
func ConfigInstance() *Config {
	return cfg
}

// Load loads configuration from the specified file and environment variables
func Load(version, file, logLevel string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg = &Config{
		Version: version,
		file:    file,
	}

	// A missing file is filled with defaults and saved below
	if _, err := os.Stat(file); err == nil {
		yamlFeeder := feeder.Yaml{Path: file}
		if err := config.New().AddFeeder(yamlFeeder).AddStruct(cfg).Feed(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	if err := cfg.EnsureDefaultConfig(true); err != nil {
		return nil, err
	}

	// Override log level from command-line argument
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	return cfg, cfg.Validate()
}
