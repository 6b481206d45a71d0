package config

import (
	"strings"
	"testing"
)

func TestDefaultsMatchSpecDefaults(t *testing.T) {
	c := Defaults()
	if c.Handshake.ConnectTimeoutMS != 15000 {
		t.Fatalf("expected 15000ms connect timeout, got %d", c.Handshake.ConnectTimeoutMS)
	}
	if c.Handshake.RetryIntervalMS != 5000 {
		t.Fatalf("expected 5000ms retry interval, got %d", c.Handshake.RetryIntervalMS)
	}
	if c.Handshake.RetryLimit != 3 {
		t.Fatalf("expected retry limit 3, got %d", c.Handshake.RetryLimit)
	}
	if c.Tracking.ExpirationMS != 1500 {
		t.Fatalf("expected 1500ms tracker expiration, got %d", c.Tracking.ExpirationMS)
	}
}

func TestLoadToleratesMissingConfigFile(t *testing.T) {
	cfg, err := Load("", t.TempDir())
	if err != nil {
		t.Fatalf("expected a missing config file to be tolerated, got %v", err)
	}
	if cfg.Handshake.RetryLimit != 3 {
		t.Fatalf("expected defaults to survive a missing file, got %+v", cfg.Handshake)
	}
}

func TestYAMLRendersConfiguredFields(t *testing.T) {
	c := Defaults()
	out, err := c.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	rendered := string(out)
	if !strings.Contains(rendered, "retry_limit: 3") {
		t.Fatalf("expected retry_limit in rendered yaml, got:\n%s", rendered)
	}
	if !strings.Contains(rendered, "listen_addr:") {
		t.Fatalf("expected listen_addr in rendered yaml, got:\n%s", rendered)
	}
}
