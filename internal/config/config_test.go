package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper clears viper's global state between tests.
// Note: environment variables are read at runtime via AutomaticEnv,
// so we also unset any vars we set in tests to avoid cross-test pollution.
func resetViper() {
	viper.Reset()
}

func unsetEnvKeys(keys ...string) {
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
}

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)
	return path
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	resetViper()
	unsetEnvKeys("APP_ENVIRONMENT", "APP_DEBUG", "TRANSPORT_KIND", "FLOW_CONTROL_MAX_CONCURRENT_MESSAGES")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.False(t, cfg.App.Debug)
	assert.Equal(t, "memory", cfg.Transport.Kind)
	assert.Equal(t, 64, cfg.FlowControl.MaxConcurrentMessages)
	assert.Equal(t, "continue", cfg.Pipeline.ErrorStrategy)
	assert.Equal(t, 0.2, cfg.HealthMonitor.CriticalBelow)
}

func TestLoadConfig_File(t *testing.T) {
	resetViper()
	unsetEnvKeys("APP_ENVIRONMENT", "TRANSPORT_KIND")

	yaml := `
app:
  environment: "production"
  debug: false
transport:
  kind: "redis"
  redis:
    addr: "redis.internal:6379"
log:
  level: "debug"
flow_control:
  max_concurrent_messages: 128
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment)
	assert.False(t, cfg.App.Debug)
	assert.Equal(t, "redis", cfg.Transport.Kind)
	assert.Equal(t, "redis.internal:6379", cfg.Transport.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 128, cfg.FlowControl.MaxConcurrentMessages)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	resetViper()
	yaml := `
app:
  environment: "development"
  debug: true
transport:
  kind: "memory"
`
	path := writeTempYAML(t, yaml)

	require.NoError(t, os.Setenv("APP_ENVIRONMENT", "production"))
	require.NoError(t, os.Setenv("APP_DEBUG", "false"))
	t.Cleanup(func() {
		unsetEnvKeys("APP_ENVIRONMENT", "APP_DEBUG")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment, "env should override file")
	assert.Equal(t, false, cfg.App.Debug, "env should override file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	resetViper()

	invalid := `
app:
  debug: : invalid
`
	path := writeTempYAML(t, invalid)

	cfg, err := LoadConfig(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_ValidationError_UnknownTransportKind(t *testing.T) {
	resetViper()
	unsetEnvKeys("TRANSPORT_KIND")

	yaml := `
transport:
  kind: "carrier-pigeon"
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_ValidationError_RedisRequiresAddr(t *testing.T) {
	resetViper()
	unsetEnvKeys("TRANSPORT_KIND", "TRANSPORT_REDIS_ADDR")

	yaml := `
transport:
  kind: "redis"
  redis:
    addr: ""
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestValidate_HealthThresholdsMustBeOrdered(t *testing.T) {
	resetViper()
	unsetEnvKeys("HEALTH_MONITOR_CRITICAL_BELOW")

	yaml := `
health_monitor:
  critical_below: 0.9
  unhealthy_below: 0.5
  degraded_below: 0.8
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
}
