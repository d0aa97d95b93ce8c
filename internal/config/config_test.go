package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("CHAT_AUTHSECRET", "from-env")
	t.Setenv("CHAT_PORT", "8080")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.AuthSecret != "from-env" {
		t.Errorf("AuthSecret got %q, want from-env", cfg.AuthSecret)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port got %q, want 8080", cfg.Port)
	}
	if !cfg.SelfContained || cfg.DbPath != "database.db" {
		t.Errorf("expected sqlite defaults, got %+v", cfg)
	}
	if cfg.CallTokenTTL != time.Hour {
		t.Errorf("CallTokenTTL got %v, want 1h", cfg.CallTokenTTL)
	}
	if cfg.PresenceTTL != 0 {
		t.Errorf("PresenceTTL got %v, want disabled", cfg.PresenceTTL)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"AuthSecret": "from-file",
		"SelfContained": true,
		"DbPath": ":memory:",
		"PresenceTTL": "5m",
		"CallMaxUsers": 8
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.AuthSecret != "from-file" || cfg.DbPath != ":memory:" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.PresenceTTL != 5*time.Minute {
		t.Errorf("PresenceTTL got %v, want 5m", cfg.PresenceTTL)
	}
	if cfg.CallMaxUsers != 8 {
		t.Errorf("CallMaxUsers got %d, want 8", cfg.CallMaxUsers)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"No auth key", `{}`},
		{"Mysql without user", `{"AuthSecret": "s", "SelfContained": false}`},
		{"Cert without key", `{"AuthSecret": "s", "TlsCert": "cert.pem"}`},
		{"Broken json", `{"AuthSecret": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Expected error, but there wasn't")
			}
		})
	}
}
