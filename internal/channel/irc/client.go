// Package irc implements the IRC messaging channel using the girc library.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	"github.com/soyeahso/chatwidget/internal/config"
	"github.com/soyeahso/chatwidget/internal/domain"
	"github.com/soyeahso/chatwidget/internal/logging"
	"github.com/soyeahso/chatwidget/internal/version"
)

// maxLineBytes keeps PRIVMSG lines well under the 512 byte IRC limit.
const maxLineBytes = 400

// Channel implements domain.Channel for IRC.
type Channel struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string
}

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{
		cfg: cfg,
		log: log.Sub("irc"),
	}
}

func (c *Channel) ID() string { return "irc" }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: "irc",
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) port() int {
	if c.cfg.Port != 0 {
		return c.cfg.Port
	}
	if c.cfg.UseTLS {
		return 6697
	}
	return 6667
}

func (c *Channel) gircConfig() girc.Config {
	gircCfg := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "chatwidget relay",
		SSL:     c.cfg.UseTLS,
		Version: version.UserAgent(),
	}

	if c.cfg.UseTLS {
		gircCfg.TLSConfig = &tls.Config{
			ServerName: c.cfg.Server,
		}
	}

	if c.cfg.SASL && c.cfg.Password != "" {
		gircCfg.SASL = &girc.SASLPlain{
			User: c.cfg.Nick,
			Pass: c.cfg.Password,
		}
	} else if c.cfg.Password != "" {
		gircCfg.ServerPass = c.cfg.Password
	}
	return gircCfg
}

// Start connects to the IRC server and processes messages until the
// connection ends or ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	client := girc.New(c.gircConfig())

	c.mu.Lock()
	c.client = client
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()

	c.registerHandlers(client)

	c.log.Info().
		Str("server", c.cfg.Server).
		Int("port", c.port()).
		Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", c.cfg.UseTLS).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		c.mu.Lock()
		c.running = false
		if err != nil {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Stop gracefully disconnects from the IRC server.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		c.log.Info().Msg("disconnecting from IRC")
		c.client.Quit("chatwidget shutting down")
	}
	c.running = false
	return nil
}

// Send delivers a message to an IRC channel or user. Notices are used for
// status lines so other bots do not answer them.
func (c *Channel) Send(ctx context.Context, msg domain.ChannelMessage) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("irc: not connected")
	}
	if msg.To == "" {
		return fmt.Errorf("irc: no target specified")
	}

	lines := splitMessage(msg.Body, maxLineBytes)
	for _, line := range lines {
		if msg.Notice {
			client.Cmd.Notice(msg.To, line)
		} else {
			client.Cmd.Message(msg.To, line)
		}
	}

	c.log.Debug().
		Str("to", msg.To).
		Int("lines", len(lines)).
		Bool("notice", msg.Notice).
		Msg("sent IRC message")

	return nil
}

// registerHandlers sets up all IRC event handlers.
func (c *Channel) registerHandlers(client *girc.Client) {
	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)
}

func (c *Channel) onConnected(client *girc.Client, e girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")

	for _, ch := range c.cfg.Channels {
		c.log.Info().Str("channel", ch).Msg("joining channel")
		client.Cmd.Join(ch)
	}
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	msg, ok := inbound(client.GetNick(), e)
	if !ok {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler != nil {
		handler(msg)
	}
}

func (c *Channel) onDisconnected(_ *girc.Client, e girc.Event) {
	c.log.Warn().Msg("disconnected from IRC")
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// inbound turns a PRIVMSG into an InboundMessage. Direct messages are always
// accepted; channel messages only when they start by addressing self.
func inbound(self string, e girc.Event) (domain.InboundMessage, bool) {
	if e.Source == nil || len(e.Params) == 0 {
		return domain.InboundMessage{}, false
	}
	if strings.EqualFold(e.Source.Name, self) {
		return domain.InboundMessage{}, false
	}

	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}

	msg := domain.InboundMessage{
		ID:        uuid.New().String(),
		ChannelID: "irc",
		From:      e.Source.Name,
		Timestamp: time.Now(),
	}

	if e.IsFromChannel() {
		text, ok := addressedBody(self, body)
		if !ok {
			return domain.InboundMessage{}, false
		}
		msg.ChatID = e.Params[0]
		msg.ChatType = domain.ChatTypeGroup
		msg.Body = text
		return msg, true
	}

	msg.ChatID = e.Source.Name
	msg.ChatType = domain.ChatTypeDM
	msg.Body = strings.TrimSpace(body)
	return msg, msg.Body != ""
}

// addressedBody strips a leading "nick:" or "nick," from body. It reports
// false when body is not addressed to nick or nothing follows the address.
func addressedBody(nick, body string) (string, bool) {
	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "@")
	if nick == "" || len(body) <= len(nick) || !strings.EqualFold(body[:len(nick)], nick) {
		return "", false
	}
	rest := body[len(nick):]
	if rest[0] != ':' && rest[0] != ',' {
		return "", false
	}
	rest = strings.TrimSpace(rest[1:])
	return rest, rest != ""
}

// splitMessage breaks a reply into IRC lines. Each newline starts a new line
// because PRIVMSG cannot carry one, blank lines are dropped, and lines longer
// than maxLen bytes are cut on rune boundaries.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if strings.TrimSpace(line) != "" {
			chunks = append(chunks, line)
		}
	}
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}
