package cli

import (
	"github.com/soyeahso/chatwidget/internal/config"
	"github.com/soyeahso/chatwidget/internal/conversation"
	"github.com/soyeahso/chatwidget/internal/store"
	"github.com/soyeahso/chatwidget/internal/transport"
)

// newBackend builds the HTTP client for the configured backend.
func newBackend(c config.Config, warn func(client, server string)) *transport.Client {
	opts := []transport.Option{transport.WithTimeout(c.Widget.Timeout())}
	if warn != nil {
		opts = append(opts, transport.WithVersionWarning(warn))
	}
	return transport.NewClient(c.Widget.APIBaseURL, c.Widget.Version, log, opts...)
}

// openTranscript opens the transcript store. It returns a nil recorder when
// recording is disabled; the close function is always non-nil.
func openTranscript(c config.Config) (conversation.Recorder, func(), error) {
	noop := func() {}
	if !c.Store.IsEnabled() {
		return nil, noop, nil
	}
	ts, closer, err := openTranscriptStore(c)
	if err != nil {
		return nil, noop, err
	}
	return ts, closer, nil
}

func openTranscriptStore(c config.Config) (*store.TranscriptStore, func(), error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, nil, err
	}
	db, err := store.Open(paths.TranscriptPath(c.Store), log)
	if err != nil {
		return nil, nil, err
	}
	return store.NewTranscriptStore(db), func() { db.Close() }, nil
}

// conversationOptions returns the options shared by terminal hosts.
func conversationOptions(source string, rec conversation.Recorder) []conversation.Option {
	opts := []conversation.Option{conversation.WithSource(source)}
	if rec != nil {
		opts = append(opts, conversation.WithRecorder(rec))
	}
	return opts
}
