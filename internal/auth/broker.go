// Package auth is the authentication side of tripsync: a Broker that holds
// the signed-in identity and tells listeners when it changes, and a
// TokenVerifier that turns a bearer token into an identity.
package auth

import (
	"sort"
	"sync"
)

// Broker holds the current identity and broadcasts identity-changed events.
// Events are delivered serially and in order; a listener is never called
// concurrently with itself or with another listener.
type Broker struct {
	dispatch sync.Mutex // serialises SignIn, SignOut and listener registration

	mu        sync.Mutex // guards identity, listeners, nextID
	identity  string
	listeners map[uint64]func(identity string)
	nextID    uint64
}

// NewBroker returns a Broker with nobody signed in.
func NewBroker() *Broker {
	return &Broker{listeners: make(map[uint64]func(string))}
}

// OnIdentityChanged registers handler and immediately calls it with the
// current identity ("" when signed out). The returned function unregisters
// it; an event already being dispatched may still reach the handler once.
func (b *Broker) OnIdentityChanged(handler func(identity string)) (unsubscribe func()) {
	b.dispatch.Lock()
	defer b.dispatch.Unlock()

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = handler
	current := b.identity
	b.mu.Unlock()

	handler(current)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// SignIn makes identity the current one. Signing in the identity that is
// already current is a no-op.
func (b *Broker) SignIn(identity string) {
	b.set(identity)
}

// SignOut clears the current identity.
func (b *Broker) SignOut() {
	b.set("")
}

// Current returns the signed-in identity, or "".
func (b *Broker) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity
}

func (b *Broker) set(identity string) {
	b.dispatch.Lock()
	defer b.dispatch.Unlock()

	b.mu.Lock()
	if b.identity == identity {
		b.mu.Unlock()
		return
	}
	b.identity = identity
	ids := make([]uint64, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]func(string), len(ids))
	for i, id := range ids {
		handlers[i] = b.listeners[id]
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(identity)
	}
}
