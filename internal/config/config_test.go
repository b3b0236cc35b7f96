//nolint:goconst // test cases intentionally repeat strings for readability
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("Could not get home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "tilde expands to home",
			input:    "~/keymap.json",
			expected: filepath.Join(home, "keymap.json"),
		},
		{
			name:     "absolute path unchanged",
			input:    "/etc/remotehub/keymap.json",
			expected: "/etc/remotehub/keymap.json",
		},
		{
			name:     "empty string unchanged",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if result != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGetConfigPaths(t *testing.T) {
	paths := getConfigPaths()

	if len(paths) == 0 {
		t.Error("getConfigPaths() returned empty slice")
	}

	lastPath := paths[len(paths)-1]
	if lastPath != "config.toml" {
		t.Errorf("last config path = %q, want %q", lastPath, "config.toml")
	}
}

func TestLoadDefaults(t *testing.T) {
	// Run from a scratch dir so a developer config.toml cannot leak in.
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.HA.URL != "ws://127.0.0.1:8123/api/websocket" {
		t.Errorf("HA.URL = %q", cfg.HA.URL)
	}
	if cfg.HA.ActivityEntity != "input_select.activity" {
		t.Errorf("HA.ActivityEntity = %q", cfg.HA.ActivityEntity)
	}
	if !cfg.USB.Grab {
		t.Error("USB.Grab should default to true")
	}
	if cfg.USB.QueueSize != 32 {
		t.Errorf("USB.QueueSize = %d, want 32", cfg.USB.QueueSize)
	}
	if cfg.Repeat.InitialMs != 400 || cfg.Repeat.RateMs != 400 {
		t.Errorf("Repeat = %+v, want 400/400", cfg.Repeat)
	}
	if cfg.Health.Addr != ":9123" {
		t.Errorf("Health.Addr = %q", cfg.Health.Addr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HA_WS_URL", "ws://ha.local:8123/api/websocket")
	t.Setenv("USB_GRAB", "0")
	t.Setenv("EDGE_QUEUE_SIZE", "4")
	t.Setenv("BLE_DEVICE_NAME", "Living Room Remote")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.HA.URL != "ws://ha.local:8123/api/websocket" {
		t.Errorf("HA.URL = %q", cfg.HA.URL)
	}
	if cfg.USB.Grab {
		t.Error("USB_GRAB=0 should disable grab")
	}
	if cfg.USB.QueueSize != 4 {
		t.Errorf("USB.QueueSize = %d, want 4", cfg.USB.QueueSize)
	}
	if cfg.BLE.DeviceName != "Living Room Remote" {
		t.Errorf("BLE.DeviceName = %q", cfg.BLE.DeviceName)
	}
}

func TestRepeatConfigSanitized(t *testing.T) {
	t.Chdir(t.TempDir())

	data := "[repeat]\ninitial_ms = -10\nrate_ms = 99999\n"
	if err := os.WriteFile("config.toml", []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Repeat.InitialMs != 400 || cfg.Repeat.RateMs != 400 {
		t.Errorf("Repeat = %+v, want sanitized 400/400", cfg.Repeat)
	}
}

func TestLoadToken(t *testing.T) {
	dir := t.TempDir()

	t.Run("inline token wins", func(t *testing.T) {
		cfg := &Config{HA: HAConfig{Token: "abc", TokenFile: "/nonexistent"}}
		tok, err := cfg.LoadToken()
		if err != nil {
			t.Fatalf("LoadToken() error: %v", err)
		}
		if tok != "abc" {
			t.Errorf("token = %q", tok)
		}
	})

	t.Run("file token trimmed", func(t *testing.T) {
		path := filepath.Join(dir, "token")
		if err := os.WriteFile(path, []byte("  secret\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg := &Config{HA: HAConfig{TokenFile: path}}
		tok, err := cfg.LoadToken()
		if err != nil {
			t.Fatalf("LoadToken() error: %v", err)
		}
		if tok != "secret" {
			t.Errorf("token = %q", tok)
		}
	})

	t.Run("empty file is an error", func(t *testing.T) {
		path := filepath.Join(dir, "empty")
		if err := os.WriteFile(path, []byte(" \n"), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg := &Config{HA: HAConfig{TokenFile: path}}
		if _, err := cfg.LoadToken(); err == nil {
			t.Error("expected error for empty token file")
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		cfg := &Config{HA: HAConfig{TokenFile: filepath.Join(dir, "nope")}}
		if _, err := cfg.LoadToken(); err == nil {
			t.Error("expected error for missing token file")
		}
	})
}
