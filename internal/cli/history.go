package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/soyeahso/chatwidget/internal/domain"
	"github.com/soyeahso/chatwidget/internal/store"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded conversation transcripts",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistorySearchCmd())
	return cmd
}

// withTranscript opens the transcript store for a read-only command.
func withTranscript(fn func(ts *store.TranscriptStore) error) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	ts, closeStore, err := openTranscriptStore(c)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer closeStore()
	return fn(ts)
}

func newHistoryListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTranscript(func(ts *store.TranscriptStore) error {
				sessions, err := ts.ListSessions(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(out, "no sessions recorded")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tSOURCE\tPROTOCOL\tEXCHANGES\tLAST SEEN")
				for _, s := range sessions {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						s.ID, s.Source, s.Protocol, s.Exchanges, humanize.Time(s.LastSeenAt))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum sessions to list")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print every exchange of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTranscript(func(ts *store.TranscriptStore) error {
				exchanges, err := ts.Exchanges(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(exchanges) == 0 {
					return fmt.Errorf("session %q not found", args[0])
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(exchanges)
				}
				for _, ex := range exchanges {
					printExchange(out, ex, true)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print exchanges as JSON")
	return cmd
}

func newHistorySearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <text...>",
		Short: "Full-text search over recorded messages and replies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTranscript(func(ts *store.TranscriptStore) error {
				hits, err := ts.Search(cmd.Context(), strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(hits) == 0 {
					fmt.Fprintln(out, "no matches")
					return nil
				}
				for _, ex := range hits {
					printExchange(out, ex, false)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum matches")
	return cmd
}

func printExchange(w io.Writer, ex domain.Exchange, withAttempts bool) {
	fmt.Fprintf(w, "[%s] session=%s source=%s took=%s\n",
		ex.StartedAt.Local().Format("2006-01-02 15:04:05"), ex.SessionID, ex.Source, ex.Duration)
	fmt.Fprintf(w, "  you: %s\n", ex.UserText)
	marker := "bot"
	if !ex.Delivered {
		marker = "bot (failed)"
	}
	fmt.Fprintf(w, "  %s: %s\n", marker, ex.ReplyText)
	if withAttempts {
		for _, a := range ex.Attempts {
			line := fmt.Sprintf("    attempt %d: %s", a.Ordinal+1, a.Outcome)
			if a.StatusCode != 0 {
				line += fmt.Sprintf(" (%d)", a.StatusCode)
			}
			if a.Backoff > 0 {
				line += fmt.Sprintf(", waited %s", a.Backoff)
			}
			fmt.Fprintln(w, line)
		}
	}
}
