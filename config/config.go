// Package config loads intentd's configuration from a TOML or YAML file,
// applies INTENTD_* environment overrides and validates the result.
//
// Usage:
//
//	cfg := config.Default()
//	if err := config.Load(path, "INTENTD", &cfg); err != nil { ... }
//	if err := cfg.Validate(); err != nil { ... }
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	units "github.com/docker/go-units"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "INTENTD"

// Config is the full server configuration.
type Config struct {
	RPC       RPCConfig       `toml:"rpc" yaml:"rpc"`
	Gateway   GatewayConfig   `toml:"gateway" yaml:"gateway"`
	Model     ModelConfig     `toml:"model" yaml:"model"`
	Tokenizer TokenizerConfig `toml:"tokenizer" yaml:"tokenizer"`
	Client    ClientConfig    `toml:"client" yaml:"client"`
	Cache     CacheConfig     `toml:"cache" yaml:"cache"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Shutdown  ShutdownConfig  `toml:"shutdown" yaml:"shutdown"`
}

// RPCConfig is the binary RPC listener.
type RPCConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port" validate:"min=0,max=65535"`
}

// GatewayConfig is the HTTP gateway listener.
type GatewayConfig struct {
	Enabled        bool          `toml:"enabled" yaml:"enabled"`
	Host           string        `toml:"host" yaml:"host"`
	Port           int           `toml:"port" yaml:"port" validate:"min=0,max=65535"`
	Path           string        `toml:"path" yaml:"path" validate:"required"`
	InputMode      string        `toml:"input_mode" yaml:"input_mode" validate:"oneof=query json"`
	QueryKey       string        `toml:"query_key" yaml:"query_key" validate:"required"`
	JSONField      string        `toml:"json_field" yaml:"json_field" validate:"required"`
	MaxBody        ByteSize      `toml:"max_body" yaml:"max_body" validate:"min=1"`
	RequestTimeout time.Duration `toml:"request_timeout" yaml:"request_timeout" validate:"min=0"`
	Metrics        bool          `toml:"metrics" yaml:"metrics"`
}

// ModelConfig locates the inference engine artifacts. Path is normally
// supplied on the command line.
type ModelConfig struct {
	Path   string `toml:"path" yaml:"path" validate:"required"`
	Prefix string `toml:"prefix" yaml:"prefix"`

	// ONNX Runtime only.
	Library    string `toml:"library" yaml:"library"`
	Vocab      string `toml:"vocab" yaml:"vocab"`
	Labels     string `toml:"labels" yaml:"labels"`
	InputName  string `toml:"input_name" yaml:"input_name"`
	MaskName   string `toml:"mask_name" yaml:"mask_name"`
	OutputName string `toml:"output_name" yaml:"output_name"`
	MaxTokens  int    `toml:"max_tokens" yaml:"max_tokens" validate:"min=0"`
}

// TokenizerConfig selects the tokenizer. An empty Path means the built-in
// whitespace tokenizer.
type TokenizerConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// ClientConfig tunes the gateway's RPC client.
type ClientConfig struct {
	PoolSize         int           `toml:"pool_size" yaml:"pool_size" validate:"min=1,max=1024"`
	ConnectTimeout   time.Duration `toml:"connect_timeout" yaml:"connect_timeout" validate:"min=1"`
	Retries          int           `toml:"retries" yaml:"retries" validate:"min=0,max=10"`
	BreakerThreshold int           `toml:"breaker_threshold" yaml:"breaker_threshold" validate:"min=1"`
	BreakerCooldown  time.Duration `toml:"breaker_cooldown" yaml:"breaker_cooldown" validate:"min=1"`
}

// CacheConfig is the optional raw-score cache.
type CacheConfig struct {
	Backend       string        `toml:"backend" yaml:"backend" validate:"oneof=none memory redis"`
	TTL           time.Duration `toml:"ttl" yaml:"ttl" validate:"min=0"`
	Capacity      int           `toml:"capacity" yaml:"capacity" validate:"min=0"`
	RedisAddr     string        `toml:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `toml:"redis_password" yaml:"redis_password"`
	RedisDB       int           `toml:"redis_db" yaml:"redis_db" validate:"min=0"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" yaml:"format" validate:"oneof=json console"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	Grace time.Duration `toml:"grace" yaml:"grace" validate:"min=0"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		RPC: RPCConfig{Port: 9090},
		Gateway: GatewayConfig{
			Enabled:        true,
			Port:           8080,
			Path:           "/",
			InputMode:      "json",
			QueryKey:       "doc",
			JSONField:      "text",
			MaxBody:        units.MiB,
			RequestTimeout: 10 * time.Second,
			Metrics:        true,
		},
		Model: ModelConfig{
			Prefix:     "intent:",
			InputName:  "input_ids",
			OutputName: "logits",
		},
		Client: ClientConfig{
			PoolSize:         8,
			ConnectTimeout:   2 * time.Second,
			Retries:          1,
			BreakerThreshold: 5,
			BreakerCooldown:  5 * time.Second,
		},
		Cache: CacheConfig{
			Backend:   "none",
			TTL:       5 * time.Minute,
			Capacity:  10000,
			RedisAddr: "localhost:6379",
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Shutdown: ShutdownConfig{Grace: 10 * time.Second},
	}
}

// Validate checks field tags and the rules that span sections.
func (c *Config) Validate() error {
	return Validate(c)
}

// RPCAddr is the host:port the RPC listener binds.
func (c *Config) RPCAddr() string {
	return net.JoinHostPort(c.RPC.Host, strconv.Itoa(c.RPC.Port))
}

// GatewayAddr is the host:port the gateway binds.
func (c *Config) GatewayAddr() string {
	return net.JoinHostPort(c.Gateway.Host, strconv.Itoa(c.Gateway.Port))
}

// ByteSize is a size in bytes written as "512KiB", "1MiB" or a plain
// integer.
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(units.BytesSize(float64(b))), nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}
