// Package session generates the client-side session identity.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/soyeahso/chatwidget/internal/domain"
)

// ErrEntropyUnavailable is returned when the secure random source fails.
var ErrEntropyUnavailable = errors.New("secure random source unavailable")

const idBytes = 16

// Identity lazily creates and then holds one session.
// It is not safe for concurrent use; the owning controller serializes calls.
type Identity struct {
	version string
	entropy io.Reader
	now     func() time.Time

	current *domain.Session
}

// Option configures an Identity.
type Option func(*Identity)

// WithEntropy replaces crypto/rand as the source of ID bytes.
func WithEntropy(r io.Reader) Option {
	return func(i *Identity) { i.entropy = r }
}

// WithClock sets the time source used for Session.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(i *Identity) { i.now = now }
}

// NewIdentity creates an Identity that stamps sessions with version.
func NewIdentity(version string, opts ...Option) *Identity {
	i := &Identity{
		version: version,
		entropy: rand.Reader,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ensure returns the existing session or generates one.
// On entropy failure nothing is cached, so a later call may succeed.
func (i *Identity) Ensure() (domain.Session, error) {
	if i.current != nil {
		return *i.current, nil
	}

	buf := make([]byte, idBytes)
	if _, err := io.ReadFull(i.entropy, buf); err != nil {
		return domain.Session{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	s := domain.Session{
		ID:              FormatID(buf, i.version),
		CreatedAt:       i.now(),
		ProtocolVersion: i.version,
	}
	i.current = &s
	return s, nil
}

// Current returns the session if one has been generated.
func (i *Identity) Current() (domain.Session, bool) {
	if i.current == nil {
		return domain.Session{}, false
	}
	return *i.current, true
}

// FormatID renders raw ID bytes as session_<hex>_v<version>.
func FormatID(raw []byte, version string) string {
	return "session_" + hex.EncodeToString(raw) + "_v" + version
}
