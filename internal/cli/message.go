package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatwidget/internal/conversation"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send one-off messages",
	}

	cmd.AddCommand(newMessageSendCmd())
	return cmd
}

type messageResult struct {
	Kind       string `json:"kind"`
	Text       string `json:"text"`
	Delivered  bool   `json:"delivered"`
	SessionID  string `json:"sessionId,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

func newMessageSendCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send a message to the backend and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}

			rec, closeRec, err := openTranscript(c)
			if err != nil {
				log.Warn().Err(err).Msg("transcript disabled")
			}
			defer closeRec()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			backend := newBackend(c, func(client, server string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: backend speaks version %s, this client %s\n", server, client)
			})
			conv := conversation.New(c.Widget, backend, log, conversationOptions("cli", rec)...)

			reply, err := conv.Send(ctx, strings.Join(args, " "))
			if errors.Is(err, conversation.ErrEmptyMessage) {
				return fmt.Errorf("message is empty after sanitizing")
			}
			if err != nil {
				return err
			}

			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
				if !reply.Delivered {
					return fmt.Errorf("message not delivered")
				}
				return nil
			}

			out := messageResult{
				Kind:      string(reply.Kind),
				Text:      reply.Text,
				Delivered: reply.Delivered,
			}
			if ex := reply.Exchange; ex != nil {
				out.SessionID = ex.SessionID
				out.Attempts = len(ex.Attempts)
				out.DurationMs = ex.Duration.Milliseconds()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the reply as JSON")
	return cmd
}
