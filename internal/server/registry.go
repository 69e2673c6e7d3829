// Package server implements the broker: the session registry, the
// per-connection protocol handler, voice-note store-and-forward, and the
// TCP accept loop.
package server

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/voxlink/voxlink/internal/transport"
)

// ErrUsernameTaken reports a registration attempt with a name that is
// already live. Recoverable: the client may retry with another name.
var ErrUsernameTaken = errors.New("username taken")

// entry pairs a username with its live session, in join order.
type entry struct {
	name string
	sess *transport.Session
}

// Registry is the shared table of connected users. All mutation happens
// under one lock; a username is present exactly while its session is live.
type Registry struct {
	log *zerolog.Logger

	mu      sync.RWMutex
	entries []entry
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{log: logger}
}

// Register atomically checks and inserts, returning the roster as it stood
// just before the insert. Two concurrent registrations with the same name
// cannot both succeed, and because check, snapshot and insert share one
// critical section, a user can never appear both in the returned roster and
// in a later join broadcast toward this client.
func (r *Registry) Register(name string, sess *transport.Session) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lo.ContainsBy(r.entries, func(e entry) bool { return e.name == name }) {
		return nil, ErrUsernameTaken
	}
	online := lo.Map(r.entries, func(e entry, _ int) string { return e.name })
	r.entries = append(r.entries, entry{name: name, sess: sess})
	return online, nil
}

// Unregister removes a user and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.entries)
	r.entries = lo.Reject(r.entries, func(e entry, _ int) bool { return e.name == name })
	return len(r.entries) != before
}

// Find returns the session registered under name.
func (r *Registry) Find(name string) (*transport.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := lo.Find(r.entries, func(e entry) bool { return e.name == name })
	return e.sess, ok
}

// Snapshot returns the usernames in join order, reflecting the registry at a
// single point in time.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.entries, func(e entry, _ int) string { return e.name })
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Broadcast sends line to every live session except the named one.
// Best-effort: a failed send is logged and the rest still get the frame.
func (r *Registry) Broadcast(line string, except string) {
	r.mu.RLock()
	targets := lo.Reject(r.entries, func(e entry, _ int) bool { return e.name == except })
	r.mu.RUnlock()

	for _, e := range targets {
		if err := e.sess.Send(line); err != nil {
			r.log.Warn().Err(err).Str("user", e.name).Msg("broadcast send failed")
		}
	}
}
