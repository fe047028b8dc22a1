// Package config loads the broker's TOML configuration (§6), the
// external collaborator the core treats as out of scope: only the
// decoded struct this package produces is consumed by internal/server.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config mirrors §6's key table verbatim, one field per key.
type Config struct {
	BrokerID                string `toml:"broker_id"`
	MaxConnections          int    `toml:"max_connections"`
	TCPPort                 int    `toml:"tcp_port"`
	TLSPort                 int    `toml:"tls_port"`
	WSPort                  int    `toml:"ws_port"`
	CertFile                string `toml:"cert_file"`
	KeyFile                 string `toml:"key_file"`
	KeepAlive               int    `toml:"keep_alive"`
	LogDest                 string `toml:"log_dest"`
	AnonymousAllowed        bool   `toml:"anonymous_allowed"`
	AuthFile                string `toml:"auth_file"`
	SysTopicsUpdateInterval int    `toml:"sys_topics_update_interval"`

	// MetricsAddr, left empty, disables the /metrics HTTP endpoint
	// (SUPPLEMENTED FEATURES — not one of §6's keys, an operational
	// extra riding on the same prometheus dependency as the $SYS
	// publisher).
	MetricsAddr string `toml:"metrics_addr"`

	// AuthExternalURL/AuthExternalTimeout configure the optional HTTP
	// authenticator plugin (§4.F point 5, §5 "Auth HTTP calls have a
	// configurable timeout; timeout => deny").
	AuthExternalURL     string `toml:"auth_external_url"`
	AuthExternalTimeout int    `toml:"auth_external_timeout_ms"`
}

// Defaults matches §6's stated defaults.
func Defaults() Config {
	return Config{
		BrokerID:                "<undefined>",
		MaxConnections:          10000,
		TCPPort:                 1883,
		TLSPort:                 8883,
		KeepAlive:               120,
		LogDest:                 "stdout",
		AnonymousAllowed:        true,
		SysTopicsUpdateInterval: 30,
		AuthExternalTimeout:     5000,
	}
}

// Load reads path as TOML over Defaults(), so unset keys keep their
// §6 default.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AuthTimeout is AuthExternalTimeout as a time.Duration.
func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.AuthExternalTimeout) * time.Millisecond
}

// TLSEnabled reports whether the TLS listener (4.I) should start:
// "if absent, the TLS listener is not started."
func (c *Config) TLSEnabled() bool {
	return c.CertFile != ""
}

// WSEnabled reports whether the WebSocket listener should start — §6
// gives ws_port no default, so it is opt-in.
func (c *Config) WSEnabled() bool {
	return c.WSPort != 0
}

// SysTopicsEnabled reports whether the $SYS publisher should run — §6:
// "0 disables".
func (c *Config) SysTopicsEnabled() bool {
	return c.SysTopicsUpdateInterval > 0
}
