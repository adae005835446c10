package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/lydakis/opencode-mcp/internal/paths"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the config file, expands ${ENV_VAR} placeholders, and applies
// environment overrides. A missing config file yields a default Config.
func Load() (*Config, error) {
	return LoadFrom(paths.ConfigFile())
}

// LoadFrom reads and parses a config file at the given path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if terr := toml.Unmarshal(data, cfg); terr != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, terr)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	expandConfigEnvVars(cfg)
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// ExampleConfigPath returns the default config file path (for help messages).
func ExampleConfigPath() string {
	return paths.ConfigFile()
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Username == "" && cfg.Password != "" {
		cfg.Username = DefaultUsername
	}
}

// applyEnvOverrides lets the MCP host configure the bridge without a file,
// which is how most clients pass settings (env blocks in their MCP config).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENCODE_MCP_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("OPENCODE_SERVER_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("OPENCODE_SERVER_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("OPENCODE_MCP_AUTO_START"); v != "" {
		enabled := parseBool(v)
		cfg.AutoStart = &enabled
	}
	if v := os.Getenv("OPENCODE_MCP_COMMAND"); v != "" {
		cfg.Command = v
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}

func expandConfigEnvVars(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.URL = expandEnvVars(cfg.URL)
	cfg.Username = expandEnvVars(cfg.Username)
	cfg.Password = expandEnvVars(cfg.Password)
	cfg.Command = expandEnvVars(cfg.Command)

	for i := range cfg.Args {
		cfg.Args[i] = expandEnvVars(cfg.Args[i])
	}
	for k, v := range cfg.Headers {
		cfg.Headers[k] = expandEnvVars(v)
	}
}

// expandEnvVars replaces ${VAR_NAME} with the value of the environment variable.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // leave unresolved vars as-is
	})
}
