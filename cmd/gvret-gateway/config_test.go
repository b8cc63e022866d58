package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/canbridge/gvret-canet-gateway/internal/gateway"
)

func baseConfig() *appConfig {
	return &appConfig{
		listenIface: "local",
		canetHost:   "192.168.4.101",
		port1:       4001,
		busRouting:  "compat",
		logFormat:   "text",
		logLevel:    "info",
		dialTimeout: 5 * time.Second,
	}
}

func TestConfigValidate(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*appConfig)
	}{
		{"bad_iface", func(c *appConfig) { c.listenIface = "wan" }},
		{"bad_log_format", func(c *appConfig) { c.logFormat = "xml" }},
		{"bad_log_level", func(c *appConfig) { c.logLevel = "trace" }},
		{"bad_routing", func(c *appConfig) { c.busRouting = "roundrobin" }},
		{"missing_host", func(c *appConfig) { c.canetHost = "" }},
		{"bad_port1", func(c *appConfig) { c.port1 = 0 }},
		{"port1_too_big", func(c *appConfig) { c.port1 = 70000 }},
		{"bad_dial_timeout", func(c *appConfig) { c.dialTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	// A bus1 endpoint override lifts the host/port requirement.
	cfg := baseConfig()
	cfg.canetHost = ""
	cfg.port1 = 0
	cfg.bus1 = "serial:/dev/ttyUSB0?baud=230400"
	if err := cfg.validate(); err != nil {
		t.Fatalf("bus1 override rejected: %v", err)
	}
}

func TestConfigEndpointsAndRouting(t *testing.T) {
	cfg := baseConfig()
	if got := cfg.busEndpoint(0); got != "192.168.4.101:4001" {
		t.Fatalf("bus 0 endpoint = %q", got)
	}
	if got := cfg.busEndpoint(1); got != "" {
		t.Fatalf("bus 1 endpoint = %q, want absent", got)
	}
	cfg.port2 = 4002
	if got := cfg.busEndpoint(1); got != "192.168.4.101:4002" {
		t.Fatalf("bus 1 endpoint = %q", got)
	}
	cfg.bus2 = "serial:/dev/ttyUSB1"
	if got := cfg.busEndpoint(1); got != "serial:/dev/ttyUSB1" {
		t.Fatalf("bus 1 override = %q", got)
	}

	if cfg.routing() != gateway.RoutingCompat {
		t.Fatalf("default routing must be compat")
	}
	cfg.busRouting = "direct"
	if cfg.routing() != gateway.RoutingDirect {
		t.Fatalf("direct routing not selected")
	}
}

func TestConfigListenAddr(t *testing.T) {
	cfg := baseConfig()
	if got := cfg.clientListenAddr(); got != "127.0.0.1:23" {
		t.Fatalf("local listen addr = %q", got)
	}
	cfg.listenIface = "any"
	if got := cfg.clientListenAddr(); got != "0.0.0.0:23" {
		t.Fatalf("any listen addr = %q", got)
	}
	cfg.listenAddr = ":2323"
	if got := cfg.clientListenAddr(); got != ":2323" {
		t.Fatalf("explicit listen addr = %q", got)
	}
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("GVRET_GW_CANET_HOST", "10.0.0.9")
	t.Setenv("GVRET_GW_PORT1", "5001")
	t.Setenv("GVRET_GW_PORT2", "5002")
	t.Setenv("GVRET_GW_BUS_ROUTING", "direct")
	t.Setenv("GVRET_GW_DIAL_TIMEOUT", "250ms")
	t.Setenv("GVRET_GW_MDNS_ENABLE", "true")

	cfg := baseConfig()
	if err := applyEnvOverrides(cfg, map[string]struct{}{}); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if cfg.canetHost != "10.0.0.9" || cfg.port1 != 5001 || cfg.port2 != 5002 {
		t.Fatalf("env endpoints not applied: %+v", cfg)
	}
	if cfg.busRouting != "direct" || cfg.dialTimeout != 250*time.Millisecond || !cfg.mdnsEnable {
		t.Fatalf("env options not applied: %+v", cfg)
	}

	// Explicitly set flags win over env.
	cfg = baseConfig()
	if err := applyEnvOverrides(cfg, map[string]struct{}{"canet-host": {}}); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if cfg.canetHost != "192.168.4.101" {
		t.Fatalf("flag did not win over env: %q", cfg.canetHost)
	}
}

func TestConfigEnvInvalidNumber(t *testing.T) {
	t.Setenv("GVRET_GW_PORT1", "not-a-port")
	cfg := baseConfig()
	if err := applyEnvOverrides(cfg, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for invalid GVRET_GW_PORT1")
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	yaml := "canet_host: 172.16.0.2\nport1: 8881\nport2: 8882\nbus_routing: direct\nlog_level: debug\ndial_timeout: 1s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg := baseConfig()
	cfg.configFile = path
	if err := applyFileConfig(cfg, map[string]struct{}{"log-level": {}}); err != nil {
		t.Fatalf("applyFileConfig: %v", err)
	}
	if cfg.canetHost != "172.16.0.2" || cfg.port1 != 8881 || cfg.port2 != 8882 {
		t.Fatalf("file endpoints not applied: %+v", cfg)
	}
	if cfg.busRouting != "direct" || cfg.dialTimeout != time.Second {
		t.Fatalf("file options not applied: %+v", cfg)
	}
	// log-level was set by flag and must not be overridden by the file.
	if cfg.logLevel != "info" {
		t.Fatalf("flag did not win over file: %q", cfg.logLevel)
	}
}
