package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.PageSize)
	assert.Equal(t, 20, cfg.PagesPerSet)
	assert.Equal(t, 2, cfg.WorkersPerBatch)
	assert.Equal(t, 3, cfg.MaxExtensions)
	assert.Equal(t, time.Minute, cfg.Wait.Cooldown)
	assert.Equal(t, 1000, cfg.Wait.RequestsPerHour)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PAGE_SIZE", "50")
	t.Setenv("WORKERS_PER_BATCH", "3")
	t.Setenv("BATCH_COOLDOWN", "2m30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 3, cfg.WorkersPerBatch)
	assert.Equal(t, 150*time.Second, cfg.Wait.Cooldown)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("PAGE_SIZE", "0")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("PAGE_SIZE", "many")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "PAGE_SIZE")
}
