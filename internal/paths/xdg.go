package paths

import (
	"os"
	"path/filepath"
)

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

func xdgDir(envVar, fallbackSuffix string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, "opencode-mcp")
	}
	return filepath.Join(homeDir(), fallbackSuffix, "opencode-mcp")
}

// ConfigDir returns the bridge config directory ($XDG_CONFIG_HOME/opencode-mcp).
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the bridge state directory ($XDG_STATE_HOME/opencode-mcp).
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// ConfigFile returns the path to config.toml.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// LogFile returns the path to the bridge's diagnostic log.
func LogFile() string {
	return filepath.Join(StateDir(), "bridge.log")
}

// EnsureDir creates a directory and parents if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
