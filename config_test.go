package voxgrid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigPartialOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "physics.yml")
	body := "tick_rate: 60\nregion_stride: 128\ngravity: [0, -3.7, 0]\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.TickRate)
	assert.Equal(t, 128, cfg.RegionStride)
	assert.Equal(t, [3]float64{0, -3.7, 0}, cfg.Gravity)

	// Keys the file does not name keep their defaults.
	def := DefaultConfig()
	assert.Equal(t, def.RegionRows, cfg.RegionRows)
	assert.Equal(t, def.GroundFriction, cfg.GroundFriction)
	assert.Equal(t, def.MaxSubSteps, cfg.MaxSubSteps)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("tick_rate: 0\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidateCatchesBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick rate", func(c *Config) { c.TickRate = 0 }},
		{"no substeps", func(c *Config) { c.MaxSubSteps = 0 }},
		{"stride below subchunk", func(c *Config) { c.RegionStride = SubchunkSize - 1 }},
		{"no safety band", func(c *Config) { c.RegionSafety = 0 }},
		{"no region rows", func(c *Config) { c.RegionRows = 0 }},
		{"ground cos out of range", func(c *Config) { c.GroundNormalCos = 1.5 }},
		{"blend above one", func(c *Config) { c.GridVelocityBlend = 1.2 }},
		{"zero correction factor", func(c *Config) { c.PenetrationCorrectionFactor = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFixedStep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickRate = 20
	assert.InDelta(t, 0.05, cfg.FixedStep(), 1e-12)
}
