package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/canbridge/gvret-canet-gateway/internal/gateway"
)

type appConfig struct {
	listenIface     string // local|any, selects the default :23 bind
	listenAddr      string // explicit listen address, overrides listenIface
	canetHost       string
	port1           int
	port2           int
	bus1            string // endpoint override: host:port or serial:<dev>?baud=N
	bus2            string
	busRouting      string // compat|direct
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	captureFile     string
	mdnsEnable      bool
	mdnsName        string
	dialTimeout     time.Duration
	configFile      string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listenIface := flag.String("listen-interface", "local", "Bind interface for the GVRET listener: local|any (port 23)")
	listen := flag.String("listen", "", "Explicit GVRET listen address (overrides -listen-interface)")
	canetHost := flag.String("canet-host", "", "CANET adapter IP address or hostname")
	port1 := flag.Int("port1", 0, "CANET TCP port for bus 0")
	port2 := flag.Int("port2", 0, "CANET TCP port for bus 1 (0 = single bus)")
	bus1 := flag.String("bus1", "", "Bus 0 endpoint override: host:port or serial:<dev>?baud=N")
	bus2 := flag.String("bus2", "", "Bus 1 endpoint override: host:port or serial:<dev>?baud=N")
	busRouting := flag.String("bus-routing", "compat", "Client frame routing: compat|direct (compat clamps to bus 1)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	captureFile := flag.String("capture", "", "Append forwarded frames to this CBOR capture file")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the GVRET listener")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default gvret-gateway-<hostname>)")
	dialTimeout := flag.Duration("dial-timeout", 5*time.Second, "CANET TCP connect timeout")
	configFile := flag.String("config", "", "Optional YAML config file (flags and env take precedence)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set; they win over env and file.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.listenIface = *listenIface
	cfg.listenAddr = *listen
	cfg.canetHost = *canetHost
	cfg.port1 = *port1
	cfg.port2 = *port2
	cfg.bus1 = *bus1
	cfg.bus2 = *bus2
	cfg.busRouting = *busRouting
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.captureFile = *captureFile
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.dialTimeout = *dialTimeout
	cfg.configFile = *configFile

	if cfg.configFile != "" {
		if err := applyFileConfig(cfg, setFlags); err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, *showVersion
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// clientListenAddr resolves the GVRET listener bind address. The classic
// client-facing port is 23.
func (c *appConfig) clientListenAddr() string {
	if c.listenAddr != "" {
		return c.listenAddr
	}
	if c.listenIface == "any" {
		return "0.0.0.0:23"
	}
	return "127.0.0.1:23"
}

// busEndpoint returns the adapter endpoint for bus i, or "" when bus 1 is
// not configured. Explicit -bus1/-bus2 overrides win over host+port.
func (c *appConfig) busEndpoint(i int) string {
	switch i {
	case 0:
		if c.bus1 != "" {
			return c.bus1
		}
		return net.JoinHostPort(c.canetHost, strconv.Itoa(c.port1))
	case 1:
		if c.bus2 != "" {
			return c.bus2
		}
		if c.port2 == 0 {
			return ""
		}
		return net.JoinHostPort(c.canetHost, strconv.Itoa(c.port2))
	default:
		return ""
	}
}

func (c *appConfig) routing() gateway.Routing {
	if c.busRouting == "direct" {
		return gateway.RoutingDirect
	}
	return gateway.RoutingCompat
}

// validate performs semantic validation of the parsed configuration. It
// does not attempt to open devices or listeners, only checks values.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.listenIface {
	case "local", "any":
	default:
		return fmt.Errorf("invalid listen-interface: %s", c.listenIface)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.busRouting {
	case "compat", "direct":
	default:
		return fmt.Errorf("invalid bus-routing: %s", c.busRouting)
	}
	if c.bus1 == "" {
		if c.canetHost == "" {
			return errors.New("canet-host (or bus1) is required")
		}
		if c.port1 <= 0 || c.port1 > 65535 {
			return fmt.Errorf("port1 must be 1..65535 (got %d)", c.port1)
		}
	}
	if c.bus2 == "" && c.port2 != 0 {
		if c.port2 < 0 || c.port2 > 65535 {
			return fmt.Errorf("port2 must be 0..65535 (got %d)", c.port2)
		}
		if c.canetHost == "" {
			return errors.New("canet-host is required with port2")
		}
	}
	if c.dialTimeout <= 0 {
		return errors.New("dial-timeout must be > 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyFileConfig fills fields from a YAML file for keys whose flags were
// not explicitly set. Env overrides are applied afterwards, so precedence
// is flag > env > file > default.
func applyFileConfig(c *appConfig, set map[string]struct{}) error {
	v := viper.New()
	v.SetConfigFile(c.configFile)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	apply := func(flagName, key string, fn func()) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v.IsSet(key) {
			fn()
		}
	}
	apply("listen-interface", "listen_interface", func() { c.listenIface = v.GetString("listen_interface") })
	apply("listen", "listen", func() { c.listenAddr = v.GetString("listen") })
	apply("canet-host", "canet_host", func() { c.canetHost = v.GetString("canet_host") })
	apply("port1", "port1", func() { c.port1 = v.GetInt("port1") })
	apply("port2", "port2", func() { c.port2 = v.GetInt("port2") })
	apply("bus1", "bus1", func() { c.bus1 = v.GetString("bus1") })
	apply("bus2", "bus2", func() { c.bus2 = v.GetString("bus2") })
	apply("bus-routing", "bus_routing", func() { c.busRouting = v.GetString("bus_routing") })
	apply("log-format", "log_format", func() { c.logFormat = v.GetString("log_format") })
	apply("log-level", "log_level", func() { c.logLevel = v.GetString("log_level") })
	apply("metrics-addr", "metrics_addr", func() { c.metricsAddr = v.GetString("metrics_addr") })
	apply("log-metrics-interval", "log_metrics_interval", func() { c.logMetricsEvery = v.GetDuration("log_metrics_interval") })
	apply("capture", "capture", func() { c.captureFile = v.GetString("capture") })
	apply("mdns-enable", "mdns_enable", func() { c.mdnsEnable = v.GetBool("mdns_enable") })
	apply("mdns-name", "mdns_name", func() { c.mdnsName = v.GetString("mdns_name") })
	apply("dial-timeout", "dial_timeout", func() { c.dialTimeout = v.GetDuration("dial_timeout") })
	return nil
}

// applyEnvOverrides maps GVRET_GW_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	str("listen-interface", "GVRET_GW_LISTEN_INTERFACE", &c.listenIface)
	str("listen", "GVRET_GW_LISTEN", &c.listenAddr)
	str("canet-host", "GVRET_GW_CANET_HOST", &c.canetHost)
	str("bus1", "GVRET_GW_BUS1", &c.bus1)
	str("bus2", "GVRET_GW_BUS2", &c.bus2)
	str("bus-routing", "GVRET_GW_BUS_ROUTING", &c.busRouting)
	str("log-format", "GVRET_GW_LOG_FORMAT", &c.logFormat)
	str("log-level", "GVRET_GW_LOG_LEVEL", &c.logLevel)
	str("metrics-addr", "GVRET_GW_METRICS", &c.metricsAddr)
	str("capture", "GVRET_GW_CAPTURE", &c.captureFile)
	str("mdns-name", "GVRET_GW_MDNS_NAME", &c.mdnsName)

	num := func(flagName, env string, dst *int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	num("port1", "GVRET_GW_PORT1", &c.port1)
	num("port2", "GVRET_GW_PORT2", &c.port2)

	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur("dial-timeout", "GVRET_GW_DIAL_TIMEOUT", &c.dialTimeout)
	dur("log-metrics-interval", "GVRET_GW_LOG_METRICS_INTERVAL", &c.logMetricsEvery)

	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("GVRET_GW_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	return firstErr
}
