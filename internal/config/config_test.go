package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	viper.Reset()
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "1234", cfg.Server.Port)
	require.Equal(t, 4, cfg.Pool.Workers)
	require.Equal(t, 2000, cfg.Engine.MaxTTLPerTick)
	require.Equal(t, float64(5), cfg.Server.IdleTimeout.Seconds())
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	viper.Reset()
	t.Setenv("EMBERDB_SERVER_PORT", "9999")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "9999", cfg.Server.Port)
}
