package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so passwords can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Widget.APIBaseURL = expandEnvVars(cfg.Widget.APIBaseURL)
	if cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Password = expandEnvVars(cfg.Channels.IRC.Password)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ParseScalar interprets a command-line value the way YAML would, so
// "2000" becomes an int and "false" a bool.
func ParseScalar(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	switch v.(type) {
	case map[string]any, []any:
		return s
	}
	return v
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	w := &cfg.Widget
	if w.APIBaseURL == "" {
		w.APIBaseURL = defaultAPIBaseURL
	}
	w.APIBaseURL = strings.TrimSuffix(w.APIBaseURL, "/")
	if w.MaxMessageLength == 0 {
		w.MaxMessageLength = defaultMaxMessageLength
	}
	if w.RateLimitDelay == 0 {
		w.RateLimitDelay = defaultRateLimitDelay
	}
	if w.ColdStartMessage == "" {
		w.ColdStartMessage = defaultColdStartMessage
	}
	if w.TypingMessage == "" {
		w.TypingMessage = defaultTypingMessage
	}
	if w.WelcomeMessage == "" {
		w.WelcomeMessage = defaultWelcomeMessage
	}
	if w.Version == "" {
		w.Version = defaultVersion
	}
	if w.ShowTypingIndicator == nil {
		typing := true
		w.ShowTypingIndicator = &typing
	}
	if w.RequestTimeout == 0 {
		w.RequestTimeout = defaultRequestTimeout
	}
	if w.MaxRetries == nil {
		retries := defaultMaxRetries
		w.MaxRetries = &retries
	}
	if w.RetryDelay == 0 {
		w.RetryDelay = defaultRetryDelay
	}

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = defaultGatewayPort
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = defaultGatewayBind
	}
	if cfg.Gateway.ConnectRate == 0 {
		cfg.Gateway.ConnectRate = defaultConnectRate
	}
	if cfg.Gateway.ConnectBurst == 0 {
		cfg.Gateway.ConnectBurst = defaultConnectBurst
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
	if cfg.Session.Scope == "" {
		cfg.Session.Scope = defaultSessionScope
	}
	if cfg.Session.IdleMinutes == 0 {
		cfg.Session.IdleMinutes = defaultIdleMinutes
	}
}

// applyEnvOverrides reads CHATWIDGET_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHATWIDGET_API_BASE_URL"); v != "" {
		cfg.Widget.APIBaseURL = strings.TrimSuffix(v, "/")
	}
	if v := os.Getenv("CHATWIDGET_WIDGET_VERSION"); v != "" {
		cfg.Widget.Version = v
	}
	if v := os.Getenv("CHATWIDGET_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("CHATWIDGET_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("CHATWIDGET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
