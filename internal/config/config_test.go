package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/storm/dialect"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("storm", pflag.ContinueOnError)
	fs.String("driver", "", "")
	fs.String("dsn", "", "")
	fs.Bool("strict", true, "")
	fs.String("log-level", "", "")
	fs.Duration("slow-threshold", 0, "")
	fs.String("product-name", "", "")
	fs.String("product-version", "", "")
	return fs
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, dialect.SQLiteDriver, cfg.Driver)
	assert.True(t, cfg.Strict)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, DefaultSlowThreshold, cfg.SlowThreshold)
	assert.Nil(t, cfg.Metadata())
	assert.Empty(t, cfg.File)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
driver: postgres
dsn: postgres://localhost/file
strict: false
log_level: debug
slow_threshold: 1s
product:
  name: Oracle
  version: "19.3.0"
`)

	t.Run("File", func(t *testing.T) {
		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.Driver)
		assert.Equal(t, "postgres://localhost/file", cfg.DSN)
		assert.False(t, cfg.Strict)
		assert.Equal(t, slog.LevelDebug, cfg.Level())
		assert.Equal(t, time.Second, cfg.SlowThreshold)
		assert.Equal(t, path, cfg.File)
		md := cfg.Metadata()
		require.NotNil(t, md)
		assert.Equal(t, 19, md.Major)
		assert.Same(t, dialect.OracleNew, dialect.Match(*md))
	})

	t.Run("Env", func(t *testing.T) {
		t.Setenv("STORM_DSN", "postgres://localhost/env")
		t.Setenv("STORM_LOG_LEVEL", "warn")
		t.Setenv("STORM_PRODUCT_VERSION", "11.2")
		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost/env", cfg.DSN)
		assert.Equal(t, slog.LevelWarn, cfg.Level())
		assert.Equal(t, "Oracle", cfg.Product.Name)
		assert.Same(t, dialect.OracleOld, dialect.Match(*cfg.Metadata()))
	})

	t.Run("Flags", func(t *testing.T) {
		t.Setenv("STORM_DSN", "postgres://localhost/env")
		fs := newFlags()
		require.NoError(t, fs.Parse([]string{"--dsn", "postgres://localhost/flag", "--slow-threshold", "250ms"}))
		cfg, err := Load(path, fs)
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost/flag", cfg.DSN)
		assert.Equal(t, 250*time.Millisecond, cfg.SlowThreshold)
		// Unset flags keep lower sources.
		assert.Equal(t, "postgres", cfg.Driver)
		assert.False(t, cfg.Strict)
	})
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errStr  string
	}{
		{
			name:    "log level",
			content: "log_level: loud\n",
			errStr:  `invalid log level "loud"`,
		},
		{
			name:    "slow threshold",
			content: "slow_threshold: -1s\n",
			errStr:  "slow threshold -1s is negative",
		},
		{
			name:    "driver",
			content: "driver: \"\"\n",
			errStr:  "driver is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errStr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}
