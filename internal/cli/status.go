package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatwidget/internal/config"
	"github.com/soyeahso/chatwidget/internal/version"
)

func newStatusCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and backend reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chatwidget %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			c, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			w := c.Widget
			fmt.Fprintf(out, "Backend: %s (protocol %s)\n", w.APIBaseURL, w.Version)
			fmt.Fprintf(out, "Widget:  maxLength=%d rateLimit=%dms timeout=%dms retries=%d retryDelay=%dms typing=%v\n",
				w.MaxMessageLength, w.RateLimitDelay, w.RequestTimeout, w.Retries(), w.RetryDelay, w.TypingIndicator())
			fmt.Fprintf(out, "Gateway: port=%d bind=%s origins=%s\n",
				c.Gateway.Port, c.Gateway.Bind, originsSummary(c.Gateway.AllowedOrigins))
			fmt.Fprintf(out, "Session: scope=%s idle=%s\n", c.Session.Scope, c.Session.IdleTimeout())

			if c.Store.IsEnabled() {
				fmt.Fprintf(out, "Store:   %s\n", paths.TranscriptPath(c.Store))
			} else {
				fmt.Fprintln(out, "Store:   disabled")
			}

			if irc := c.Channels.IRC; irc != nil {
				fmt.Fprintf(out, "IRC:     server=%s nick=%s channels=%s tls=%v\n",
					irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
			} else {
				fmt.Fprintln(out, "IRC:     (not configured)")
			}

			if probe {
				ctx, cancel := context.WithTimeout(cmd.Context(), w.Timeout())
				defer cancel()
				status, err := newBackend(c, nil).Health(ctx)
				if err != nil {
					fmt.Fprintf(out, "Probe:   unreachable: %v\n", err)
				} else {
					fmt.Fprintf(out, "Probe:   %s\n", status)
				}
			}

			if issues := config.Validate(&c); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "check the backend's /health endpoint")
	return cmd
}

func originsSummary(origins []string) string {
	if len(origins) == 0 {
		return "none (non-browser clients only)"
	}
	return strings.Join(origins, ",")
}
