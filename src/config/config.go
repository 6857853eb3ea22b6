// Package config loads the kernel's boot-time configuration: hart
// count, physical memory window, log level, and the init binary path
// to exec as pid 1. A real port reads most of this from the device
// tree blob SBI hands off at boot; this stand-in reads a small YAML
// document instead (parsed with gopkg.in/yaml.v3), the same
// format-of-choice the rest of the pack's services use for their own
// config files.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

/// Config is the boot-time configuration document.
type Config struct {
	NumHarts int    `yaml:"num_harts"`
	MemMB    int    `yaml:"mem_mb"`
	LogLevel string `yaml:"log_level"`
	InitPath string `yaml:"init_path"`
}

/// Default returns the configuration used when no boot config file is
/// supplied: a single hart, 128MB of RAM, info-level logging, and
/// /init as the first user program -- the same defaults QEMU's virt
/// machine minimal invocation implies.
func Default() Config {
	return Config{
		NumHarts: 1,
		MemMB:    128,
		LogLevel: "info",
		InitPath: "/init",
	}
}

/// Load reads and parses a YAML boot config from path, filling in
/// Default()'s values for any field the file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
