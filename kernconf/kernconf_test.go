package kernconf

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	require.NoError(t, BindFlags(fs, v))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Defaults().NumCPUs, cfg.NumCPUs)
	assert.Equal(t, Defaults().ShootdownQueueCap, cfg.ShootdownQueueCap)
}

func TestBindFlagsOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	require.NoError(t, BindFlags(fs, v))
	require.NoError(t, fs.Parse([]string{"--cpus=4", "--migration-threshold=2"}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NumCPUs)
	assert.Equal(t, 2, cfg.MigrationThreshold)
}

func TestValidateRejectsZeroCPUs(t *testing.T) {
	cfg := Defaults()
	cfg.NumCPUs = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBootFSDevice(t *testing.T) {
	cfg := Defaults()
	cfg.BootFSDevice = "lhd0"
	assert.Error(t, cfg.Validate())

	cfg.Devices = []Device{{Name: "lhd0", Mountable: true}}
	assert.NoError(t, cfg.Validate())
}
