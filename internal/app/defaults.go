package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// GetDefaults returns application default paths, checking environment
// variables first:
//   - ROLECTL_CONFIG_PATH: config file (default: $XDG_CONFIG_HOME/rolectl.toml)
//   - ROLECTL_HOME: data directory (default: $XDG_DATA_HOME/rolectl)
//   - ROLECTL_SCOPE: server whose roles are edited by default
//
// XDG_CONFIG_HOME and XDG_DATA_HOME fall back to ~/.config and
// ~/.local/share.
func GetDefaults() (map[string]string, error) {
	v := viper.New()
	v.SetEnvPrefix("rolectl")
	for _, key := range []string{"config_path", "home", "scope"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}
	for _, key := range []string{"XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
		if err := v.BindEnv(key, key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil && (v.GetString("config_path") == "" || v.GetString("home") == "") {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}
	v.SetDefault("XDG_CONFIG_HOME", filepath.Join(homeDir, ".config"))
	v.SetDefault("XDG_DATA_HOME", filepath.Join(homeDir, ".local", "share"))
	v.SetDefault("config_path", filepath.Join(v.GetString("XDG_CONFIG_HOME"), "rolectl.toml"))
	v.SetDefault("home", filepath.Join(v.GetString("XDG_DATA_HOME"), "rolectl"))

	baseDir := v.GetString("home")
	return map[string]string{
		"config_path": v.GetString("config_path"),
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"scope_id":    v.GetString("scope"),
	}, nil
}
