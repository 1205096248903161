package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	defaultAPIBaseURL       = "https://chat-bot-hizj.onrender.com"
	defaultMaxMessageLength = 2000
	defaultRateLimitDelay   = 1000
	defaultColdStartMessage = "Starting up... This may take a moment on first use."
	defaultTypingMessage    = "Typing..."
	defaultWelcomeMessage   = "Hello! How can I help you today?"
	defaultVersion          = "1.0.0"
	defaultRequestTimeout   = 30000
	defaultMaxRetries       = 2
	defaultRetryDelay       = 1000

	defaultGatewayPort  = 18790
	defaultGatewayBind  = "loopback"
	defaultConnectRate  = 2.0
	defaultConnectBurst = 5
	defaultIdleMinutes  = 30
	defaultSessionScope = "per-sender"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{
		Gateway: GatewayConfig{
			Port:         defaultGatewayPort,
			Bind:         defaultGatewayBind,
			ConnectRate:  defaultConnectRate,
			ConnectBurst: defaultConnectBurst,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Session: SessionConfig{
			Scope:       defaultSessionScope,
			IdleMinutes: defaultIdleMinutes,
		},
	}
	cfg.Widget = DefaultWidget()
	return cfg
}

// DefaultWidget returns the widget settings used when nothing is configured.
func DefaultWidget() WidgetConfig {
	retries := defaultMaxRetries
	typing := true
	return WidgetConfig{
		APIBaseURL:          defaultAPIBaseURL,
		MaxMessageLength:    defaultMaxMessageLength,
		RateLimitDelay:      defaultRateLimitDelay,
		ColdStartMessage:    defaultColdStartMessage,
		TypingMessage:       defaultTypingMessage,
		WelcomeMessage:      defaultWelcomeMessage,
		Version:             defaultVersion,
		ShowTypingIndicator: &typing,
		RequestTimeout:      defaultRequestTimeout,
		MaxRetries:          &retries,
		RetryDelay:          defaultRetryDelay,
	}
}
