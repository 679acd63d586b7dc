package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 9090, cfg.RPC.Port)
	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, "json", cfg.Gateway.InputMode)
	assert.Equal(t, "doc", cfg.Gateway.QueryKey)
	assert.Equal(t, "text", cfg.Gateway.JSONField)
	assert.Equal(t, ByteSize(1<<20), cfg.Gateway.MaxBody)
	assert.Equal(t, 10*time.Second, cfg.Shutdown.Grace)
	assert.Equal(t, "intent:", cfg.Model.Prefix)

	cfg.Model.Path = "model.json"
	assert.NoError(t, cfg.Validate())
}

func TestDefaultRequiresModel(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Model.Path")
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "intentd.toml", `
[rpc]
port = 9191

[gateway]
enabled = true
port = 8181
input_mode = "query"
max_body = "64KiB"
request_timeout = "3s"

[model]
path = "model.json"

[shutdown]
grace = "2s"
`)

	cfg := Default()
	require.NoError(t, Load(path, "", &cfg))
	assert.Equal(t, 9191, cfg.RPC.Port)
	assert.Equal(t, 8181, cfg.Gateway.Port)
	assert.Equal(t, "query", cfg.Gateway.InputMode)
	assert.Equal(t, ByteSize(64*1024), cfg.Gateway.MaxBody)
	assert.Equal(t, 3*time.Second, cfg.Gateway.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.Shutdown.Grace)
	// Untouched keys keep their defaults.
	assert.Equal(t, "doc", cfg.Gateway.QueryKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "intentd.yaml", `
rpc:
  port: 9292
gateway:
  enabled: false
  max_body: 2MiB
cache:
  backend: memory
  ttl: 1m
model:
  path: model.onnx
  vocab: vocab.txt
`)

	cfg := Default()
	require.NoError(t, Load(path, "", &cfg))
	assert.Equal(t, 9292, cfg.RPC.Port)
	assert.False(t, cfg.Gateway.Enabled)
	assert.Equal(t, ByteSize(2<<20), cfg.Gateway.MaxBody)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "vocab.txt", cfg.Model.Vocab)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	cfg := Default()
	err := Load(writeFile(t, "bad.toml", "[gateway]\nprot = 1\n"), "", &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prot")

	err = Load(writeFile(t, "bad.yaml", "gateway:\n  prot: 1\n"), "", &cfg)
	assert.Error(t, err)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	cfg := Default()
	err := Load(writeFile(t, "intentd.ini", "x=1"), "", &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestLoadMissingFile(t *testing.T) {
	cfg := Default()
	assert.Error(t, Load(filepath.Join(t.TempDir(), "none.toml"), "", &cfg))
}

func TestLoadRequiresPointerToStruct(t *testing.T) {
	var cfg Config
	assert.Error(t, Load("", "", cfg))
}

func TestLoadEmptyYAML(t *testing.T) {
	cfg := Default()
	require.NoError(t, Load(writeFile(t, "empty.yml", ""), "", &cfg))
	assert.Equal(t, 9090, cfg.RPC.Port)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("INTENTD_RPC_PORT", "7000")
	t.Setenv("INTENTD_GATEWAY_ENABLED", "false")
	t.Setenv("INTENTD_GATEWAY_INPUT_MODE", "query")
	t.Setenv("INTENTD_GATEWAY_MAX_BODY", "4KiB")
	t.Setenv("INTENTD_SHUTDOWN_GRACE", "750ms")
	t.Setenv("INTENTD_MODEL_PATH", "env-model.json")

	cfg := Default()
	require.NoError(t, Load("", EnvPrefix, &cfg))
	assert.Equal(t, 7000, cfg.RPC.Port)
	assert.False(t, cfg.Gateway.Enabled)
	assert.Equal(t, "query", cfg.Gateway.InputMode)
	assert.Equal(t, ByteSize(4096), cfg.Gateway.MaxBody)
	assert.Equal(t, 750*time.Millisecond, cfg.Shutdown.Grace)
	assert.Equal(t, "env-model.json", cfg.Model.Path)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "intentd.toml", "[rpc]\nport = 9191\n")
	t.Setenv("INTENTD_RPC_PORT", "9393")

	cfg := Default()
	require.NoError(t, Load(path, EnvPrefix, &cfg))
	assert.Equal(t, 9393, cfg.RPC.Port)
}

func TestApplyEnvBadValue(t *testing.T) {
	t.Setenv("INTENTD_RPC_PORT", "ninety")
	cfg := Default()
	err := Load("", EnvPrefix, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INTENTD_RPC_PORT")
}

func TestValidateSamePorts(t *testing.T) {
	cfg := Default()
	cfg.Model.Path = "m.json"
	cfg.Gateway.Port = cfg.RPC.Port
	assert.Error(t, cfg.Validate())

	cfg.Gateway.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestValidateCrossSectionRules(t *testing.T) {
	cfg := Default()
	cfg.Model.Path = "m.json"
	cfg.Gateway.Port = cfg.RPC.Port
	err := Validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.port and rpc.port are both 9090")

	cfg = Default()
	cfg.Model.Path = "m.json"
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.redis_addr")

	cfg.Cache.RedisAddr = "127.0.0.1:6379"
	assert.NoError(t, cfg.Validate())
}

func TestValidateInputMode(t *testing.T) {
	cfg := Default()
	cfg.Model.Path = "m.json"
	cfg.Gateway.InputMode = "form"
	assert.Error(t, cfg.Validate())
}

func TestAddrs(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":9090", cfg.RPCAddr())
	cfg.Gateway.Host = "127.0.0.1"
	assert.Equal(t, "127.0.0.1:8080", cfg.GatewayAddr())
}

func TestByteSize(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("1MiB")))
	assert.Equal(t, ByteSize(1<<20), b)
	require.NoError(t, b.UnmarshalText([]byte("512")))
	assert.Equal(t, ByteSize(512), b)
	assert.Error(t, b.UnmarshalText([]byte("lots")))
	assert.Equal(t, "1MiB", ByteSize(1<<20).String())
}
