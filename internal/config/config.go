// Package config holds the broker's process-level configuration.
// Listen address, data directory, and debug behavior are process
// flags (teacher's internal/config/config.go convention — flag.StringVar
// into a struct); the runtime-mutable server settings
// (max_concurrent_clients, heartbeat_interval, max_inactive_minutes)
// live in server_config.ini instead, since an operator changes those
// without restarting the process. See ini.go.
package config

import (
	"flag"
)

// Config is the broker's process-level configuration, fixed for the
// life of the process.
type Config struct {
	ListenAddr string
	DataDir    string
	Debug      bool
}

// Parse parses process flags into a Config. Called once from
// cmd/server/main.go.
func Parse() *Config {
	cfg := &Config{}
	flag.StringVar(&cfg.ListenAddr, "listen", ":8420", "address to listen on")
	flag.StringVar(&cfg.DataDir, "data-dir", "browser_data", "directory for persisted cookies and server settings")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable verbose debug logging (same as BROKER_DEBUG=1)")
	flag.Parse()
	return cfg
}
