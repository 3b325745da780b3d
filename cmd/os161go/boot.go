package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/os161go/os161go/cpu"
	"github.com/os161go/os161go/kernconf"
	"github.com/os161go/os161go/klog"
	"github.com/os161go/os161go/thread"
	"github.com/os161go/os161go/vfs"
	"github.com/os161go/os161go/vnode"
)

func newBootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Bring up the configured CPUs and set the boot filesystem device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(v)
		},
	}
	if err := kernconf.BindFlags(cmd.Flags(), v); err != nil {
		panic(err)
	}
	cmd.Flags().String("config", "", "path to a config file (yaml/json/toml)")
	return cmd
}

func runBoot(v *viper.Viper) error {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("boot: read config: %w", err)
		}
	}

	cfg, err := kernconf.Load(v)
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("boot: log level: %w", err)
	}
	klog.Init(os.Stderr, level)
	log := klog.For("boot")

	cpus := cpu.NewRegistry()
	for i := 0; i < cfg.NumCPUs; i++ {
		c := cpus.Add(uint32(i))
		log.Info().Uint32("cpu", c.SoftwareID()).Msg("cpu online")
	}

	registry := vfs.New()
	for _, d := range cfg.Devices {
		dev := vnode.New(vnode.NoSysOps{}, nil, nil)
		if err := registry.AddDevice(d.Name, dev, d.Mountable); err != nil {
			return fmt.Errorf("boot: register device %q: %w", d.Name, err)
		}
		log.Info().Str("device", d.Name).Bool("mountable", d.Mountable).Msg("device attached")
	}

	if cfg.BootFSDevice != "" {
		if err := registry.SetBootFS(cfg.BootFSDevice); err != nil {
			return fmt.Errorf("boot: set bootfs: %w", err)
		}
		log.Info().Str("device", cfg.BootFSDevice).Msg("bootfs set")
	}

	log.Info().Int("cpus", cfg.NumCPUs).Msg("boot complete, idling")

	boot := thread.Fork("idle", cpus.All()[0], func(self *thread.Thread) {
		self.Switch(thread.StateSleeping, "idle")
	})
	boot.Join()
	return nil
}
