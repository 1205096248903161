package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Widget validation
	w := cfg.Widget
	if w.APIBaseURL != "" {
		u, err := url.Parse(w.APIBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("widget.apiBaseUrl", "must be an absolute http(s) URL, got %q", w.APIBaseURL)
		}
	}
	if w.MaxMessageLength < 0 {
		add("widget.maxMessageLength", "must not be negative, got %d", w.MaxMessageLength)
	}
	if w.RateLimitDelay < 0 {
		add("widget.rateLimitDelay", "must not be negative, got %d", w.RateLimitDelay)
	}
	if w.RequestTimeout < 0 {
		add("widget.requestTimeout", "must not be negative, got %d", w.RequestTimeout)
	}
	if w.MaxRetries != nil && (*w.MaxRetries < 0 || *w.MaxRetries > 10) {
		add("widget.maxRetries", "must be 0-10, got %d", *w.MaxRetries)
	}
	if w.RetryDelay < 0 {
		add("widget.retryDelay", "must not be negative, got %d", w.RetryDelay)
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	if cfg.Gateway.ConnectRate < 0 {
		add("gateway.connectRate", "must not be negative, got %v", cfg.Gateway.ConnectRate)
	}
	if cfg.Gateway.ConnectBurst < 0 {
		add("gateway.connectBurst", "must not be negative, got %d", cfg.Gateway.ConnectBurst)
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	switch cfg.Session.Scope {
	case "", "per-sender", "per-chat":
	default:
		add("session.scope", "must be per-sender or per-chat, got %q", cfg.Session.Scope)
	}
	if cfg.Session.IdleMinutes < 0 {
		add("session.idleMinutes", "must not be negative, got %d", cfg.Session.IdleMinutes)
	}

	// IRC validation (only if configured)
	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Server == "" {
			add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			add("channels.irc.nick", "nick is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			add("channels.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
		if irc.SASL && irc.Password == "" {
			add("channels.irc.sasl", "SASL requires a password to be set")
		}
	}

	return issues
}
