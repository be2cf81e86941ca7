package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadMissingFileUsesPaperDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Len(t, cfg.Assets, 3)
	require.Len(t, cfg.Paper.Accounts, 1)
	assert.Equal(t, "paper", cfg.Paper.Accounts[0].Name)
	assert.Equal(t, 10000.0, cfg.Paper.Accounts[0].Balance)
	assert.Equal(t, "standard", cfg.ActiveTier)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "decision-engine.events", cfg.Kafka.Topic)
	assert.Equal(t, []string{"1d", "4h", "1h"}, cfg.Engine.TrendTimeframes)
	assert.Equal(t, 60, cfg.Engine.SignalIntervalSeconds)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"active_tier": "conservative",
		"engine": {"signal_interval_seconds": 30, "brokers": ["demo"], "learning": {"enabled": false}},
		"paper": {"accounts": [{"name": "demo", "balance": 2500}]},
		"assets": [{"id": "COPPER", "category": "metal", "aliases": {"demo": ["XCUUSD"]}}]
	}`)
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DRY_RUN", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "conservative", cfg.ActiveTier)
	assert.Equal(t, 30, cfg.Engine.SignalIntervalSeconds)
	assert.Equal(t, 120, cfg.Engine.ExecutionIntervalSeconds, "untouched fields keep defaults")
	assert.False(t, cfg.Engine.Learning.Enabled)
	assert.True(t, cfg.Engine.DryRun)
	require.Len(t, cfg.Assets, 1)
	assert.Equal(t, 1.0, cfg.Assets[0].UnitValue)
	assert.Equal(t, 100.0, cfg.Paper.Accounts[0].Leverage)
	assert.Equal(t, 2500.0, cfg.Paper.Accounts[0].Balance)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad category", `{"assets": [{"id": "X", "category": "stocks", "aliases": {"paper": ["X"]}}]}`},
		{"unknown tier", `{"active_tier": "yolo"}`},
		{"asset on no broker", `{"assets": [{"id": "X", "category": "fx", "aliases": {"other": ["X"]}}]}`},
		{"engine broker without account", `{"engine": {"brokers": ["live"]}}`},
		{"duplicate asset", `{"assets": [
			{"id": "X", "category": "fx", "aliases": {"paper": ["X"]}},
			{"id": "X", "category": "fx", "aliases": {"paper": ["Y"]}}]}`},
		{"auth without secret", `{"server": {"auth_enabled": true}}`},
		{"kafka without brokers", `{"kafka": {"enabled": true}}`},
		{"history too short", `{"engine": {"history_bars": 10}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, `{"engine": `))
	assert.Error(t, err)
}

func TestSampleConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	require.NoError(t, GenerateSampleConfig(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Engine.DryRun)
	assert.Equal(t, []string{"paper"}, cfg.Engine.Brokers)
	assert.Equal(t, "profiles.yaml", cfg.ProfilesFile)
}
