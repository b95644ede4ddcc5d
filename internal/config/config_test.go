package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, "config.yaml", `
ledger:
  backend: mysql
  lock_timeout: 750ms
  cas_retries: 5
grpc:
  addr: ":7000"
mysql:
  host: db
  user: ledger
  db_name: bank
kafka:
  enabled: true
  brokers: ["k1:9092"]
  topic: entries
`)
	t.Setenv("LEDGER_GRPC_ADDR", ":9000")
	t.Setenv("LEDGER_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, BackendMySQL, cfg.Ledger.Backend)
	assert.Equal(t, 750*time.Millisecond, cfg.Ledger.LockTimeout)
	assert.Equal(t, 5, cfg.Ledger.CASRetries)
	assert.Equal(t, 50, cfg.Ledger.PageSize, "unset keys keep their defaults")
	assert.Equal(t, ":9000", cfg.GRPC.Addr)
	assert.Equal(t, "db", cfg.MySQL.Host)
	assert.Equal(t, 3306, cfg.MySQL.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "entries", cfg.Kafka.Topic)
}

func TestLoadDotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "LEDGER_LOG_FORMAT=json\nLEDGER_CAS_RETRIES=7\n")
	t.Cleanup(func() {
		os.Unsetenv("LEDGER_LOG_FORMAT")
		os.Unsetenv("LEDGER_CAS_RETRIES")
	})

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 7, cfg.Ledger.CASRetries)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad backend", func(c *Config) { c.Ledger.Backend = "redis" }, true},
		{"zero lock timeout", func(c *Config) { c.Ledger.LockTimeout = 0 }, true},
		{"mysql without host", func(c *Config) {
			c.Ledger.Backend = BackendMySQL
			c.MySQL.Host = ""
		}, true},
		{"mysql ignored on memory backend", func(c *Config) { c.MySQL.Host = "" }, false},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
