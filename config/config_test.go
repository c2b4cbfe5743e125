package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestReadConfig(t *testing.T) {
	path := writeConfigFile(t, `
batchSize: 256
maxBatchMem: 1048576
abortOnError: true
delimiter: "|"
escape: "\\"
nullSentinel: "NULL"
copyStrings: true
`)

	cfg, err := ReadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.BatchSize)
	assert.Equal(t, int64(1048576), cfg.MaxBatchMem)
	assert.True(t, cfg.AbortOnError)
	assert.Equal(t, "|", cfg.Delimiter)
	assert.Equal(t, byte('\\'), cfg.EscapeByte())
	assert.Equal(t, "NULL", cfg.NullSentinel)
	assert.True(t, cfg.CopyStrings)

	// Unset keys keep their defaults.
	assert.Equal(t, 100, cfg.MaxErrorLogs)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestReadConfigInvalidYaml(t *testing.T) {
	path := writeConfigFile(t, "batchSize: [not a number")
	_, err := ReadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "zero batch size", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: true},
		{name: "empty delimiter", mutate: func(c *Config) { c.Delimiter = "" }, wantErr: true},
		{name: "multi-byte delimiter", mutate: func(c *Config) { c.Delimiter = ",," }, wantErr: true},
		{name: "multi-byte escape", mutate: func(c *Config) { c.Escape = `\\` }, wantErr: true},
		{name: "single-byte escape", mutate: func(c *Config) { c.Escape = `\` }, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEscapeByte(t *testing.T) {
	cfg := Default()
	assert.Equal(t, byte(0), cfg.EscapeByte())
	cfg.Escape = `\`
	assert.Equal(t, byte('\\'), cfg.EscapeByte())
}
