package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DETECTOR_BASE_URL", "")
	t.Setenv("DETECTOR_TIMEOUT", "")
	t.Setenv("STREAM_IDLE_TIMEOUT", "")
	t.Setenv("STORE_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	if cfg.Detector.BaseURL != "http://localhost:8000" {
		t.Fatalf("base URL %q", cfg.Detector.BaseURL)
	}
	if cfg.Detector.ConnectTimeout != 30*time.Second {
		t.Fatalf("connect timeout %v", cfg.Detector.ConnectTimeout)
	}
	if cfg.Detector.IdleTimeout != 90*time.Second {
		t.Fatalf("idle timeout %v", cfg.Detector.IdleTimeout)
	}
	if cfg.Store.Path != "" {
		t.Fatalf("store path %q", cfg.Store.Path)
	}
}

func TestLoadPortForms(t *testing.T) {
	cases := map[string]string{
		"9090":           ":9090",
		":9090":          ":9090",
		"127.0.0.1:9090": "127.0.0.1:9090",
	}
	for in, want := range cases {
		t.Setenv("PORT", in)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("PORT=%q err: %v", in, err)
		}
		if cfg.Server.Addr != want {
			t.Fatalf("PORT=%q: got %q want %q", in, cfg.Server.Addr, want)
		}
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "80 80")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed PORT")
	}
}

func TestLoadTimeoutsInSeconds(t *testing.T) {
	t.Setenv("DETECTOR_TIMEOUT", "5")
	t.Setenv("STREAM_IDLE_TIMEOUT", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Detector.ConnectTimeout != 5*time.Second {
		t.Fatalf("connect timeout %v", cfg.Detector.ConnectTimeout)
	}
	if cfg.Detector.IdleTimeout != 120*time.Second {
		t.Fatalf("idle timeout %v", cfg.Detector.IdleTimeout)
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	for _, bad := range []string{"zero", "-3", "0"} {
		t.Setenv("DETECTOR_TIMEOUT", bad)
		if _, err := Load(); err == nil {
			t.Fatalf("expected error for DETECTOR_TIMEOUT=%q", bad)
		}
	}
}
