package pulse

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("pulse", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8090" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.ActivityDBPath != "activity.db" {
		t.Fatalf("expected default activity db path, got %q", cfg.ActivityDBPath)
	}
	if cfg.NotificationsDBPath != "notifications.db" {
		t.Fatalf("expected default notifications db path, got %q", cfg.NotificationsDBPath)
	}
	if cfg.Retention != 168*time.Hour {
		t.Fatalf("expected default retention, got %s", cfg.Retention)
	}
	if cfg.PresenceTimeout != 45*time.Second {
		t.Fatalf("expected default presence timeout, got %s", cfg.PresenceTimeout)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("CLDCDE_PULSE_HTTP_ADDR", "env-addr")
	t.Setenv("CLDCDE_PULSE_RETENTION", "48h")

	fs := flag.NewFlagSet("pulse", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-addr",
		"-activity-db", "flag-activity.db",
		"-presence-timeout", "30s",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.ActivityDBPath != "flag-activity.db" {
		t.Fatalf("expected flag activity db path, got %q", cfg.ActivityDBPath)
	}
	if cfg.Retention != 48*time.Hour {
		t.Fatalf("expected env retention, got %s", cfg.Retention)
	}
	if cfg.PresenceTimeout != 30*time.Second {
		t.Fatalf("expected flag presence timeout, got %s", cfg.PresenceTimeout)
	}
}
