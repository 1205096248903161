package config

import "time"

// Config is the root configuration for chatwidget.
type Config struct {
	Widget   WidgetConfig   `yaml:"widget,omitempty"`
	Gateway  GatewayConfig  `yaml:"gateway,omitempty"`
	Channels ChannelsConfig `yaml:"channels,omitempty"`
	Session  SessionConfig  `yaml:"session,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// WidgetConfig holds the conversation engine settings shared by every host.
// Durations are in milliseconds, matching the embed snippet's options.
type WidgetConfig struct {
	APIBaseURL          string `yaml:"apiBaseUrl,omitempty"`
	MaxMessageLength    int    `yaml:"maxMessageLength,omitempty"`
	RateLimitDelay      int    `yaml:"rateLimitDelay,omitempty"`
	ColdStartMessage    string `yaml:"coldStartMessage,omitempty"`
	TypingMessage       string `yaml:"typingMessage,omitempty"`
	WelcomeMessage      string `yaml:"welcomeMessage,omitempty"`
	Version             string `yaml:"version,omitempty"`
	ShowTypingIndicator *bool  `yaml:"showTypingIndicator,omitempty"`
	RequestTimeout      int    `yaml:"requestTimeout,omitempty"`
	MaxRetries          *int   `yaml:"maxRetries,omitempty"` // 0 disables retries
	RetryDelay          int    `yaml:"retryDelay,omitempty"`
}

// RateLimitInterval returns RateLimitDelay as a duration.
func (w WidgetConfig) RateLimitInterval() time.Duration {
	return time.Duration(w.RateLimitDelay) * time.Millisecond
}

// Timeout returns the per-attempt request deadline.
func (w WidgetConfig) Timeout() time.Duration {
	return time.Duration(w.RequestTimeout) * time.Millisecond
}

// BaseDelay returns the retry backoff unit.
func (w WidgetConfig) BaseDelay() time.Duration {
	return time.Duration(w.RetryDelay) * time.Millisecond
}

// Retries returns the retry budget, defaulting to 2 when unset.
func (w WidgetConfig) Retries() int {
	if w.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *w.MaxRetries
}

// TypingIndicator reports whether hosts should show the pending placeholder.
func (w WidgetConfig) TypingIndicator() bool {
	return w.ShowTypingIndicator == nil || *w.ShowTypingIndicator
}

// GatewayConfig controls the widget HTTP/WebSocket host.
type GatewayConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
	ConnectRate    float64  `yaml:"connectRate,omitempty"`  // new connections per second per address
	ConnectBurst   int      `yaml:"connectBurst,omitempty"` // burst allowance for ConnectRate
}

// ChannelsConfig defines channel-specific configurations.
type ChannelsConfig struct {
	IRC *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
}

// SessionConfig controls how channel hosts group senders into conversations
// and how long an idle conversation is kept.
type SessionConfig struct {
	Scope       string `yaml:"scope,omitempty"` // "per-sender" | "per-chat"
	IdleMinutes int    `yaml:"idleMinutes,omitempty"`
}

// IdleTimeout returns IdleMinutes as a duration.
func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleMinutes) * time.Minute
}

// StoreConfig controls the transcript audit log.
type StoreConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"` // defaults to <base>/data/transcript.db
}

// IsEnabled reports whether transcripts are recorded. Defaults to true.
func (s StoreConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}
