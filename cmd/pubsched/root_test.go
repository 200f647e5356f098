package main

import (
	"testing"
	"time"
)

func TestEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{" 1 ", true},
		{"TRUE", true},
		{"false", false},
		{"yes", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Setenv("PUBSCHED_TEST_BOOL", tt.value)
		if got := envBool("PUBSCHED_TEST_BOOL"); got != tt.want {
			t.Errorf("envBool(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("SITE_URL", "https://example.com")
	t.Setenv("QUEUE_BACKEND", "sqlite")
	t.Setenv("TIMEZONE", "Europe/Istanbul")
	t.Setenv("PUBLISH_INTERVAL", "30s")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("RESEND_API_KEY", "re_x")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.URL != "https://example.com" || cfg.QueueBackend != "sqlite" {
		t.Errorf("loadConfig() = %+v", cfg)
	}
	if cfg.Location.String() != "Europe/Istanbul" {
		t.Errorf("Location = %v", cfg.Location)
	}
	if cfg.PublishInterval != 30*time.Second || !cfg.CookieSecure {
		t.Errorf("PublishInterval = %v, CookieSecure = %v", cfg.PublishInterval, cfg.CookieSecure)
	}
	if cfg.Newsletter.ResendAPIKey != "re_x" {
		t.Errorf("Newsletter.ResendAPIKey = %q", cfg.Newsletter.ResendAPIKey)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	for key, value := range map[string]string{
		"TIMEZONE":         "Not/AZone",
		"PUBLISH_INTERVAL": "soon",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := loadConfig(); err == nil {
				t.Errorf("loadConfig() with %s=%q should fail", key, value)
			}
		})
	}
}
