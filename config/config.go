package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Upstream struct {
	APIKey       string        `yaml:"api_key" env:"UPSTREAM_API_KEY"`
	BaseURL      string        `yaml:"base_url" env:"UPSTREAM_BASE_URL" env-default:"https://api.cerebras.ai/v1"`
	DefaultModel string        `yaml:"default_model" env:"UPSTREAM_DEFAULT_MODEL" env-default:"llama-3.3-70b"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"UPSTREAM_DIAL_TIMEOUT" env-default:"10s"`
}

type Server struct {
	Address         string        `yaml:"address" env:"SERVER_ADDRESS" env-default:":8080"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type StorageDriver string

const (
	StorageDriverMemory = StorageDriver("memory")
	StorageDriverRedis  = StorageDriver("redis")
	StorageDriverSQLite = StorageDriver("sqlite")
	StorageDriverBolt   = StorageDriver("bolt")
)

type Storage struct {
	Driver         StorageDriver `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	RedisEndpoint  string        `yaml:"redis_endpoint" env:"REDIS_ENDPOINT" env-default:"localhost:6379"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix" env:"REDIS_KEY_PREFIX"`
	RedisOpTimeout time.Duration `yaml:"redis_op_timeout" env:"REDIS_OP_TIMEOUT" env-default:"3s"`
	SQLitePath     string        `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"chat-history.db"`
	BoltPath       string        `yaml:"bolt_path" env:"BOLT_PATH" env-default:"chat-history.bolt"`
}

// Chat configures the client side: conversation store defaults and how the
// orchestrator reaches the relay. An empty RelayURL runs the relay in-process.
type Chat struct {
	DefaultModel string `yaml:"default_model" env:"CHAT_DEFAULT_MODEL" env-default:"llama3.2"`
	RelayURL     string `yaml:"relay_url" env:"CHAT_RELAY_URL"`
	Language     string `yaml:"language" env:"CHAT_LANGUAGE" env-default:"en"`
	RenderStyle  string `yaml:"render_style" env:"CHAT_RENDER_STYLE" env-default:"dark"`
	WordWrap     int    `yaml:"word_wrap" env:"CHAT_WORD_WRAP" env-default:"100"`
	HistoryFile  string `yaml:"history_file" env:"CHAT_HISTORY_FILE" env-default:".llm-chat-history"`
}

type Config struct {
	Upstream Upstream `yaml:"upstream"`
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	Chat     Chat     `yaml:"chat"`
	Log      Log      `yaml:"log"`
}

var ErrUnknownStorageDriver = errors.New("unknown storage driver")

// LoadConfig reads cfgPath (yaml, json, toml or env file) and applies env
// overrides. An empty cfgPath reads the environment only.
func LoadConfig(cfgPath string) (*Config, error) {
	var cfg Config
	if cfgPath != "" {
		if err := cleanenv.ReadConfig(cfgPath, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgPath, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageDriverMemory, StorageDriverRedis, StorageDriverSQLite, StorageDriverBolt:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorageDriver, c.Storage.Driver)
	}
	return nil
}

// Usage prints the supported environment variables.
func Usage() string {
	var cfg Config
	description, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return description
}
