package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/chatwidget/internal/channel"
	"github.com/soyeahso/chatwidget/internal/channel/irc"
	"github.com/soyeahso/chatwidget/internal/config"
	"github.com/soyeahso/chatwidget/internal/gateway"
	"github.com/soyeahso/chatwidget/internal/hooks"
	"github.com/soyeahso/chatwidget/internal/routing"
)

// sweepInterval is how often idle channel conversations are evicted.
const sweepInterval = time.Minute

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve the widget over WebSocket and bridge configured channels",
	}

	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				c.Gateway.Port = port
			}
			if bind != "" {
				c.Gateway.Bind = bind
			}

			if issues := config.Validate(&c); len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			rec, closeRec, err := openTranscript(c)
			if err != nil {
				return fmt.Errorf("opening transcript: %w", err)
			}
			defer closeRec()

			hookMgr := hooks.NewManager(log)
			hookMgr.On(hooks.EventVersionMismatch, "log", func(_ context.Context, p hooks.Payload) error {
				log.Warn().
					Interface("client", p.Data["clientVersion"]).
					Interface("server", p.Data["serverVersion"]).
					Msg("backend protocol version differs")
				return nil
			})
			defer hookMgr.Wait()

			opts := []gateway.ServerOption{gateway.WithHooks(hookMgr)}
			if rec != nil {
				opts = append(opts, gateway.WithRecorder(rec))
			}
			srv := gateway.New(c, log, opts...)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			channels := channel.NewRegistry(log)
			var sources []routing.Source
			if c.Channels.IRC != nil {
				ircCh := irc.New(*c.Channels.IRC, log)
				channels.Register(ircCh)
				sources = append(sources, ircCh)
			}

			var routerOpts []routing.Option
			if rec != nil {
				routerOpts = append(routerOpts, routing.WithRecorder(rec))
			}
			router := routing.NewRouter(c, newBackend(c, nil), channels, log, routerOpts...)
			router.Wire(ctx, sources...)
			defer router.Wait()

			if channels.Count() > 0 {
				log.Info().
					Strs("channels", channels.List()).
					Str("scope", c.Session.Scope).
					Msg("message routing active")
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(gctx)
			})
			g.Go(func() error {
				err := channels.Run(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				t := time.NewTicker(sweepInterval)
				defer t.Stop()
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-t.C:
						router.Sweep()
					}
				}
			})

			err = g.Wait()

			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			channels.StopAll(stopCtx)
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
