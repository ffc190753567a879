// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledlink.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := defaultConfig()
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("validateConfig(defaults) error = %v", err)
	}
	if cfg.Timeout() != 500*time.Millisecond {
		t.Errorf("Timeout() = %v, want 500ms", cfg.Timeout())
	}
	if cfg.TxWarmup() != 2*time.Millisecond {
		t.Errorf("TxWarmup() = %v, want 2ms", cfg.TxWarmup())
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfigFile(t, `
connectivityTimeoutMs: 250
variant: multi
deviceId: 2
link:
  txWarmupMs: 0
hub:
  listen: "127.0.0.1:9000"
  dropRate: 0.25
`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	want := defaultConfig()
	want.ConnectivityTimeoutMs = 250
	want.Variant = "multi"
	want.DeviceID = 2
	want.Link.TxWarmupMs = 0
	want.Hub.Listen = "127.0.0.1:9000"
	want.Hub.DropRate = 0.25

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("loadConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	path := writeConfigFile(t, "connectivityTimeout: 250\n")
	if _, err := loadConfig(path); err == nil {
		t.Fatal("loadConfig() accepted an unknown key")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("loadConfig() error = nil for a missing file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("loadConfig() error = %v, want a not-exist error", err)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LEDLINK_TIMEOUT_MS", "750")
	t.Setenv("LEDLINK_DEVICE_ID", "1")
	t.Setenv("LEDLINK_VARIANT", "multi")
	t.Setenv("LEDLINK_HUB_LISTEN", ":9999")

	path := writeConfigFile(t, "connectivityTimeoutMs: 250\n")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	// The environment wins over the file
	if cfg.ConnectivityTimeoutMs != 750 {
		t.Errorf("ConnectivityTimeoutMs = %d, want 750", cfg.ConnectivityTimeoutMs)
	}
	if cfg.DeviceID != 1 {
		t.Errorf("DeviceID = %d, want 1", cfg.DeviceID)
	}
	if cfg.Variant != "multi" {
		t.Errorf("Variant = %q, want multi", cfg.Variant)
	}
	if cfg.Hub.Listen != ":9999" {
		t.Errorf("Hub.Listen = %q, want :9999", cfg.Hub.Listen)
	}
}

func TestLoadConfig_BadEnv(t *testing.T) {
	t.Setenv("LEDLINK_TIMEOUT_MS", "soon")
	_, err := loadConfig("")
	if err == nil || !strings.Contains(err.Error(), "LEDLINK_TIMEOUT_MS") {
		t.Errorf("loadConfig() error = %v, want LEDLINK_TIMEOUT_MS error", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"timeout too short", func(c *Config) { c.ConnectivityTimeoutMs = 5 }, "connectivity timeout"},
		{"timeout too long", func(c *Config) { c.ConnectivityTimeoutMs = 60001 }, "connectivity timeout"},
		{"unknown variant", func(c *Config) { c.Variant = "mesh" }, "mesh"},
		{"negative device", func(c *Config) { c.DeviceID = -1 }, "device id"},
		{"device out of range", func(c *Config) { c.DeviceID = 3 }, "device id"},
		{"negative warm-up", func(c *Config) { c.Link.TxWarmupMs = -1 }, "warm-up"},
		{"drop rate above one", func(c *Config) { c.Hub.DropRate = 1.5 }, "drop rate"},
		{"negative corrupt rate", func(c *Config) { c.Hub.CorruptRate = -0.1 }, "corrupt rate"},
		{"positive RSSI", func(c *Config) { c.Hub.RSSIDbm = 3 }, "RSSI"},
		{"zero log size", func(c *Config) { c.Log.MaxSizeMb = 0 }, "log max size"},
		{"negative retention", func(c *Config) { c.Log.MaxBackups = -1 }, "retention"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)
			err := validateConfig(cfg)
			if err == nil {
				t.Fatal("validateConfig() error = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validateConfig() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("timeout-ms", 500, "")
	cmd.Flags().Int("device", 0, "")
	cmd.Flags().Float64("drop-rate", 0, "")
	cmd.Flags().String("variant", "single", "")

	if err := cmd.Flags().Parse([]string{"--timeout-ms", "120", "--drop-rate", "0.5"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg := defaultConfig()
	cfg.DeviceID = 2
	cfg.Variant = "multi"
	applyFlags(cmd, cfg)

	want := defaultConfig()
	want.ConnectivityTimeoutMs = 120
	want.Hub.DropRate = 0.5
	// Flags left at their defaults do not clobber loaded values
	want.DeviceID = 2
	want.Variant = "multi"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("applyFlags() mismatch (-want +got):\n%s", diff)
	}
}
