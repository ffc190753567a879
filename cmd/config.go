// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
	"github.com/Thermoquad/ledlink/pkg/ledlink"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

// Config is the complete ledlink configuration
type Config struct {
	ConnectivityTimeoutMs int        `yaml:"connectivityTimeoutMs"`
	Variant               string     `yaml:"variant"`
	DeviceID              int        `yaml:"deviceId"`
	Link                  LinkConfig `yaml:"link"`
	Hub                   HubConfig  `yaml:"hub"`
	Log                   LogConfig  `yaml:"log"`
}

// LinkConfig holds simulated link settings
type LinkConfig struct {
	TxWarmupMs int `yaml:"txWarmupMs"`
}

// HubConfig holds the simulated air hub settings
type HubConfig struct {
	Listen      string  `yaml:"listen"`
	Username    string  `yaml:"username"`
	DropRate    float64 `yaml:"dropRate"`
	CorruptRate float64 `yaml:"corruptRate"`
	RSSIDbm     int     `yaml:"rssiDbm"`
}

// LogConfig holds log file rotation settings
type LogConfig struct {
	MaxSizeMb  int  `yaml:"maxSizeMb"`
	MaxBackups int  `yaml:"maxBackups"`
	MaxAgeDays int  `yaml:"maxAgeDays"`
	Compress   bool `yaml:"compress"`
}

// Timeout returns the connectivity timeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ConnectivityTimeoutMs) * time.Millisecond
}

// TxWarmup returns the link warm-up delay as a duration
func (c *Config) TxWarmup() time.Duration {
	return time.Duration(c.Link.TxWarmupMs) * time.Millisecond
}

// loadConfig builds the configuration from defaults, the optional YAML file
// and environment overrides. Command flags are applied by the caller, which
// then calls validateConfig.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ConnectivityTimeoutMs: int(ledlink.DefaultTimeout / time.Millisecond),
		Variant:               ledlink.VariantSingle,
		DeviceID:              genfsk.DeviceZero,
		Link: LinkConfig{
			TxWarmupMs: 2,
		},
		Hub: HubConfig{
			Listen:  ":8765",
			RSSIDbm: -60,
		},
		Log: LogConfig{
			MaxSizeMb:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LEDLINK_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LEDLINK_TIMEOUT_MS %q: %w", v, err)
		}
		cfg.ConnectivityTimeoutMs = ms
	}

	if v := os.Getenv("LEDLINK_DEVICE_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LEDLINK_DEVICE_ID %q: %w", v, err)
		}
		cfg.DeviceID = id
	}

	if v := os.Getenv("LEDLINK_VARIANT"); v != "" {
		cfg.Variant = v
	}

	if v := os.Getenv("LEDLINK_HUB_LISTEN"); v != "" {
		cfg.Hub.Listen = v
	}

	return nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.ConnectivityTimeoutMs < 10 || cfg.ConnectivityTimeoutMs > 60000 {
		return fmt.Errorf("connectivity timeout %d ms is outside reasonable range [10, 60000]", cfg.ConnectivityTimeoutMs)
	}

	if _, err := ledlink.TableFor(cfg.Variant); err != nil {
		return err
	}

	if cfg.DeviceID < 0 || cfg.DeviceID >= genfsk.NumDevices {
		return fmt.Errorf("device id %d out of range (0-%d)", cfg.DeviceID, genfsk.NumDevices-1)
	}

	if cfg.Link.TxWarmupMs < 0 || cfg.Link.TxWarmupMs > 1000 {
		return fmt.Errorf("tx warm-up %d ms is outside reasonable range [0, 1000]", cfg.Link.TxWarmupMs)
	}

	if cfg.Hub.DropRate < 0 || cfg.Hub.DropRate > 1 {
		return fmt.Errorf("hub drop rate %.2f must be within [0, 1]", cfg.Hub.DropRate)
	}
	if cfg.Hub.CorruptRate < 0 || cfg.Hub.CorruptRate > 1 {
		return fmt.Errorf("hub corrupt rate %.2f must be within [0, 1]", cfg.Hub.CorruptRate)
	}
	if cfg.Hub.RSSIDbm < -127 || cfg.Hub.RSSIDbm > 0 {
		return fmt.Errorf("hub RSSI %d dBm is outside range [-127, 0]", cfg.Hub.RSSIDbm)
	}

	if cfg.Log.MaxSizeMb <= 0 {
		return fmt.Errorf("log max size must be positive, got %d MB", cfg.Log.MaxSizeMb)
	}
	if cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log retention must not be negative")
	}

	return nil
}

// applyFlags copies command line flags that were explicitly set into cfg.
// Flags a command does not define are skipped.
func applyFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	changed := func(name string) bool {
		return flags.Lookup(name) != nil && flags.Changed(name)
	}

	if changed("timeout-ms") {
		cfg.ConnectivityTimeoutMs, _ = flags.GetInt("timeout-ms")
	}
	if changed("variant") {
		cfg.Variant, _ = flags.GetString("variant")
	}
	if changed("device") {
		cfg.DeviceID, _ = flags.GetInt("device")
	}
	if changed("tx-warmup-ms") {
		cfg.Link.TxWarmupMs, _ = flags.GetInt("tx-warmup-ms")
	}
	if changed("listen") {
		cfg.Hub.Listen, _ = flags.GetString("listen")
	}
	if changed("drop-rate") {
		cfg.Hub.DropRate, _ = flags.GetFloat64("drop-rate")
	}
	if changed("corrupt-rate") {
		cfg.Hub.CorruptRate, _ = flags.GetFloat64("corrupt-rate")
	}
	if changed("rssi") {
		cfg.Hub.RSSIDbm, _ = flags.GetInt("rssi")
	}
}
