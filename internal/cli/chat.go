package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/soyeahso/chatwidget/internal/conversation"
	"github.com/soyeahso/chatwidget/internal/hooks"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation in the terminal",
		Long: "Reads one message per line and prints each reply. Commands: " +
			"/session, /state, /help, /quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if logLevel == "" {
				// keep the transcript readable unless asked otherwise
				if err := openLogger("warn"); err != nil {
					return err
				}
			}

			rec, closeRec, err := openTranscript(c)
			if err != nil {
				log.Warn().Err(err).Msg("transcript disabled")
			}
			defer closeRec()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			in := cmd.InOrStdin()
			term := &repl{
				in:          in,
				out:         cmd.OutOrStdout(),
				errOut:      cmd.ErrOrStderr(),
				interactive: isTerminal(in),
			}

			events := hooks.NewManager(log)
			if c.Widget.TypingIndicator() {
				events.On(hooks.EventReplyPending, "repl", func(_ context.Context, p hooks.Payload) error {
					placeholder, _ := p.Data["placeholder"].(string)
					term.status(placeholder)
					return nil
				})
			}
			events.On(hooks.EventVersionMismatch, "repl", func(_ context.Context, p hooks.Payload) error {
				fmt.Fprintf(term.errOut, "warning: backend speaks version %v, this client %v\n",
					p.Data["serverVersion"], p.Data["clientVersion"])
				return nil
			})

			backend := newBackend(c, func(client, server string) {
				events.Emit(ctx, hooks.EventVersionMismatch, map[string]any{
					"clientVersion": client,
					"serverVersion": server,
				})
			})

			opts := append(conversationOptions("repl", rec), conversation.WithHooks(events))
			term.conv = conversation.New(c.Widget, backend, log, opts...)
			return term.run(ctx)
		},
	}
}

type repl struct {
	conv        *conversation.Controller
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	interactive bool
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *repl) prompt() {
	if r.interactive {
		fmt.Fprint(r.out, "you> ")
	}
}

// status prints a transient line, such as the typing placeholder.
func (r *repl) status(text string) {
	if r.interactive && text != "" {
		fmt.Fprintf(r.out, "  ... %s\n", text)
	}
}

func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	if r.interactive {
		fmt.Fprintf(r.out, "bot> %s\n", r.conv.Welcome())
	}
	r.prompt()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if quit := r.handle(ctx, line); quit {
				return nil
			}
			r.prompt()
		}
	}
}

// handle processes one input line and reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	switch strings.TrimSpace(line) {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, "commands: /session, /state, /help, /quit")
		return false
	case "/session":
		if sess, ok := r.conv.Session(); ok {
			fmt.Fprintf(r.out, "session %s (protocol %s, started %s)\n",
				sess.ID, sess.ProtocolVersion, sess.CreatedAt.Format("15:04:05"))
		} else {
			fmt.Fprintln(r.out, "no session yet")
		}
		return false
	case "/state":
		fmt.Fprintf(r.out, "state=%s coldStart=%v\n", r.conv.State(), r.conv.ColdStart())
		return false
	}

	reply, err := r.conv.Send(ctx, line)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return false
	case err != nil:
		log.Error().Err(err).Msg("send failed")
		fmt.Fprintln(r.errOut, conversation.MsgUnavailable)
		return false
	}

	if reply.Kind == conversation.ReplyWarning {
		fmt.Fprintf(r.errOut, "! %s\n", reply.Text)
		return false
	}
	if r.interactive {
		fmt.Fprintf(r.out, "bot> %s\n", reply.Text)
	} else {
		fmt.Fprintln(r.out, reply.Text)
	}
	return false
}
