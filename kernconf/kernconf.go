// Package kernconf describes this kernel's boot-time configuration: how
// many simulated CPUs to bring up, the per-CPU run-queue migration
// threshold, the TLB shootdown queue capacity, and which named devices
// (and which one is bootfs) get attached at boot. Values are parsed with
// pflag/viper so they can come from flags, a config file, or environment
// variables interchangeably, the way a long-running daemon's config layer
// typically does. The migration threshold and shootdown queue capacity
// are validated but nothing reads them: the cpu package's shootdown queue
// capacity is a fixed constant, and the boot command never calls
// thread.ConsiderMigration.
package kernconf

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Device describes one named device to register before boot, e.g.
// "lhd0" backed by a raw disk image, matching the source's config.c
// device-attachment list.
type Device struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
	// Mountable mirrors struct knowndev's rawname convention: true for a
	// device a filesystem can be mounted on (a disk), false for a
	// character device (console, null) that's registered but never
	// mounted.
	Mountable bool `mapstructure:"mountable"`
}

// Config is the full set of boot-time parameters.
type Config struct {
	NumCPUs              int      `mapstructure:"cpus"`
	MigrationThreshold   int      `mapstructure:"migration_threshold"`
	ShootdownQueueCap    int      `mapstructure:"shootdown_queue_capacity"`
	Devices              []Device `mapstructure:"devices"`
	BootFSDevice         string   `mapstructure:"bootfs_device"`
	LogLevel             string   `mapstructure:"log_level"`
}

// Defaults returns the configuration used when no flags, env vars, or
// config file override a setting.
func Defaults() Config {
	return Config{
		NumCPUs:            1,
		MigrationThreshold: 4,
		ShootdownQueueCap:  16,
		LogLevel:           "info",
	}
}

// BindFlags registers this package's flags on fs and binds them into v,
// following the common pflag+viper pattern of one BindPFlag call per
// setting so any of flag/env/config-file can supply it.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := Defaults()
	fs.Int("cpus", d.NumCPUs, "number of simulated CPUs to boot")
	fs.Int("migration-threshold", d.MigrationThreshold, "run-queue length imbalance that triggers thread migration")
	fs.Int("shootdown-queue-capacity", d.ShootdownQueueCap, "per-CPU pending TLB shootdown queue capacity")
	fs.String("bootfs-device", d.BootFSDevice, "name of the device to mount as the boot filesystem")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")

	for _, name := range []string{"cpus", "migration-threshold", "shootdown-queue-capacity", "bootfs-device", "log-level"} {
		if err := v.BindPFlag(mapstructureKey(name), fs.Lookup(name)); err != nil {
			return fmt.Errorf("kernconf: bind flag %q: %w", name, err)
		}
	}
	v.SetEnvPrefix("OS161GO")
	v.AutomaticEnv()
	return nil
}

// mapstructureKey turns a flag's kebab-case name into the snake_case key
// its mapstructure tag uses.
func mapstructureKey(flagName string) string {
	out := make([]byte, 0, len(flagName))
	for _, c := range flagName {
		if c == '-' {
			out = append(out, '_')
			continue
		}
		out = append(out, byte(c))
	}
	return string(out)
}

// Load reads a config from v (after BindFlags and, optionally, v.ReadInConfig
// have populated it) and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("kernconf: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the boot path relies on: at least one
// CPU, a non-negative migration threshold, a positive shootdown queue
// capacity, and - if any devices are configured - a bootfs device that
// actually names one of them.
func (c Config) Validate() error {
	if c.NumCPUs < 1 {
		return fmt.Errorf("kernconf: cpus must be >= 1, got %d", c.NumCPUs)
	}
	if c.MigrationThreshold < 0 {
		return fmt.Errorf("kernconf: migration_threshold must be >= 0, got %d", c.MigrationThreshold)
	}
	if c.ShootdownQueueCap < 1 {
		return fmt.Errorf("kernconf: shootdown_queue_capacity must be >= 1, got %d", c.ShootdownQueueCap)
	}
	if c.BootFSDevice != "" {
		found := false
		for _, d := range c.Devices {
			if d.Name == c.BootFSDevice {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("kernconf: bootfs_device %q not in devices list", c.BootFSDevice)
		}
	}
	return nil
}
