package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.TCPPort != 1883 || d.TLSPort != 8883 {
		t.Errorf("default ports = %d/%d, want 1883/8883", d.TCPPort, d.TLSPort)
	}
	if !d.AnonymousAllowed {
		t.Error("anonymous_allowed should default to true")
	}
	if d.MaxConnections != 10000 {
		t.Errorf("max_connections default = %d, want 10000", d.MaxConnections)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
tcp_port = 1984
anonymous_allowed = false
cert_file = "cert.pem"
ws_port = 9001
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TCPPort != 1984 {
		t.Errorf("tcp_port = %d, want 1984", cfg.TCPPort)
	}
	if cfg.AnonymousAllowed {
		t.Error("anonymous_allowed should have been overridden to false")
	}
	// Unset keys keep their default.
	if cfg.TLSPort != 8883 {
		t.Errorf("tls_port should keep its default, got %d", cfg.TLSPort)
	}
	if !cfg.TLSEnabled() {
		t.Error("TLSEnabled should be true once cert_file is set")
	}
	if !cfg.WSEnabled() {
		t.Error("WSEnabled should be true once ws_port is set")
	}
}

func TestSysTopicsEnabled(t *testing.T) {
	cfg := Defaults()
	if !cfg.SysTopicsEnabled() {
		t.Error("sys topics should be enabled by default (interval > 0)")
	}
	cfg.SysTopicsUpdateInterval = 0
	if cfg.SysTopicsEnabled() {
		t.Error("0 should disable sys topics")
	}
}
