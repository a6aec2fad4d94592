package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.ParseConfig([]byte(`{"remediation": {"max_retries": 5}}`))
	require.NoError(t, err)

	assert.Equal(t, "rod", cfg.Browser.Driver)
	assert.Equal(t, 5, cfg.Remediation.MaxRetries)
	assert.Equal(t, config.DefaultRemediationStrategies, cfg.Remediation.Strategies)
	assert.Equal(t, 3, cfg.Navigation.MaxAttempts)
	assert.InDelta(t, 0.3, cfg.Captcha.Slider.MatchThreshold, 1e-9)
	assert.Equal(t, 20, cfg.Captcha.Slider.StepsMin)
	assert.Equal(t, 40, cfg.Captcha.Slider.StepsMax)
	assert.Equal(t, []string{"file"}, cfg.Storage.Backends)
	assert.Contains(t, cfg.Pacing, config.PaceBetweenItems)
	assert.True(t, filepath.IsAbs(cfg.Rod.UserDataDir))
}

func TestParseConfigValidation(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"driver":      `{"browser": {"driver": "selenium"}}`,
		"strategy":    `{"remediation": {"strategies": ["pray"]}}`,
		"backend":     `{"storage": {"backends": ["notion"]}}`,
		"pacing":      `{"pacing": {"typing": {"min_ms": 50, "max_ms": 10}}}`,
		"es address":  `{"storage": {"backends": ["elasticsearch"]}}`,
		"bad json":    `{`,
		"fingerprint": `{"fingerprint": {"strategy": "random"}}`,
		"backup dir":  `{"checkpoint": {"dir": "./data/cp", "backup_dir": "./data/cp/"}}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := config.ParseConfig([]byte(raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, crawlerr.ErrConfiguration)
		})
	}
}

func TestLoadFileWithFallback(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("", []byte(`{"checkpoint": {"max_backups": 4}}`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Checkpoint.MaxBackups)

	path := filepath.Join(t.TempDir(), "app.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"navigation": {"max_attempts": 7}}`), 0o644))
	cfg, err = config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Navigation.MaxAttempts)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.ErrorIs(t, err, crawlerr.ErrConfiguration)
}
