package service

import "sync"

// SessionRegistry maps session ids to their live delivery channels.
//
// Concurrency contract: the map is guarded by a mutex and safe for arbitrary
// concurrent use, but the design assumes single-writer-per-session — only the
// owning producer drives a given session. The lock is never held across a
// channel Send or Close; callers obtain the channel via Get and perform I/O
// outside the registry.
//
// At most one channel is registered per session. Registering a channel for a
// session that already has one replaces the prior channel, closing it: the
// newest subscriber wins, matching client reconnect behavior where the old
// stream is already dead from the client's point of view.
type SessionRegistry struct {
	mu       sync.Mutex
	channels map[string]Channel
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		channels: make(map[string]Channel),
	}
}

// Register installs ch as the session's live channel. Any previously
// registered channel is closed after the swap, outside the lock.
func (r *SessionRegistry) Register(sessionID string, ch Channel) {
	r.mu.Lock()
	prev := r.channels[sessionID]
	r.channels[sessionID] = ch
	r.mu.Unlock()

	if prev != nil && prev != ch {
		prev.Close()
	}
}

// Get returns the session's live channel, or nil if none is registered.
func (r *SessionRegistry) Get(sessionID string) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[sessionID]
}

// Has reports whether the session has a live channel.
func (r *SessionRegistry) Has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[sessionID]
	return ok
}

// Deregister removes the session's channel only if it is still ch, so a
// stale deregistration (from a replaced channel's cleanup hook) never evicts
// its replacement. Returns true when the channel was removed.
func (r *SessionRegistry) Deregister(sessionID string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.channels[sessionID]
	if !ok || current != ch {
		return false
	}
	delete(r.channels, sessionID)
	return true
}

// Len returns the number of registered channels.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
