package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Host != "0.0.0.0:11434" {
		t.Errorf("default Host = %q, want %q", cfg.Host, "0.0.0.0:11434")
	}
	if cfg.DefaultKeepAlive != 300*time.Second {
		t.Errorf("default DefaultKeepAlive = %v, want 300s", cfg.DefaultKeepAlive)
	}
	if cfg.MaxLoadedModels != 1 {
		t.Errorf("default MaxLoadedModels = %d, want 1", cfg.MaxLoadedModels)
	}
	if cfg.DatabaseURL != "" || cfg.RedisAddr != "" || cfg.S3Endpoint != "" || cfg.WebhookURL != "" {
		t.Errorf("optional ambient services should default to disabled (empty), got %+v", cfg)
	}
}

func TestLoadRespectsEnv(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "127.0.0.1:9999")
	t.Setenv("OLLAMA_MAX_LOADED_MODELS", "3")
	t.Setenv("OLLAMA_ORIGINS", "a.example.com, b.example.com")
	t.Setenv("OLLAMA_KEEP_ALIVE", "45")

	cfg := Load()
	if cfg.Host != "127.0.0.1:9999" {
		t.Errorf("Host = %q, want %q", cfg.Host, "127.0.0.1:9999")
	}
	if cfg.MaxLoadedModels != 3 {
		t.Errorf("MaxLoadedModels = %d, want 3", cfg.MaxLoadedModels)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "a.example.com" || cfg.AllowedOrigins[1] != "b.example.com" {
		t.Errorf("AllowedOrigins = %v, want [a.example.com b.example.com]", cfg.AllowedOrigins)
	}
	if cfg.DefaultKeepAlive != 45*time.Second {
		t.Errorf("DefaultKeepAlive = %v, want 45s", cfg.DefaultKeepAlive)
	}
}

func TestGetEnvDurationAcceptsGoDurationString(t *testing.T) {
	t.Setenv("TEST_DURATION", "2m30s")
	got := getEnvDuration("TEST_DURATION", time.Second)
	if got != 2*time.Minute+30*time.Second {
		t.Errorf("getEnvDuration = %v, want 2m30s", got)
	}
}

func TestGetEnvDurationFallback(t *testing.T) {
	got := getEnvDuration("TEST_DURATION_UNSET", 7*time.Second)
	if got != 7*time.Second {
		t.Errorf("getEnvDuration fallback = %v, want 7s", got)
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b ,, c ", []string{"a", "b", "c"}},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("splitCSV(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("splitCSV(%q)[%d] = %q, want %q", c.in, i, got[i], c.want[i])
			}
		}
	}
}
