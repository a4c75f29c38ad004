package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("ROLECTL_CONFIG_PATH", "/custom/rolectl.yaml")
		t.Setenv("ROLECTL_HOME", "/custom/rolectl")
		t.Setenv("ROLECTL_SCOPE", "server-9")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/rolectl.yaml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/rolectl.yaml")
		}
		if defaults["base_dir"] != "/custom/rolectl" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/rolectl")
		}
		if defaults["log_dir"] != "/custom/rolectl/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/rolectl/log")
		}
		if defaults["scope_id"] != "server-9" {
			t.Errorf("scope_id = %q, want %q", defaults["scope_id"], "server-9")
		}
	})

	t.Run("follows XDG directories", func(t *testing.T) {
		t.Setenv("ROLECTL_CONFIG_PATH", "")
		t.Setenv("ROLECTL_HOME", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
		t.Setenv("XDG_DATA_HOME", "/xdg/data")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/xdg/config/rolectl.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/xdg/config/rolectl.toml")
		}
		if defaults["base_dir"] != "/xdg/data/rolectl" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/xdg/data/rolectl")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("ROLECTL_CONFIG_PATH", "")
		t.Setenv("ROLECTL_HOME", "")
		t.Setenv("ROLECTL_SCOPE", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("XDG_DATA_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "rolectl.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "rolectl")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
		if defaults["log_dir"] != filepath.Join(wantBase, "log") {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], filepath.Join(wantBase, "log"))
		}
		if defaults["scope_id"] != "" {
			t.Errorf("scope_id = %q, want empty", defaults["scope_id"])
		}
	})
}
