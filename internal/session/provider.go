// Package session bridges the external authentication provider and the
// sync core: it exposes the signed-in identity for stamping writes and
// drives cache initialization and subscription teardown on auth
// transitions.
package session

import (
	"errors"
	"sync"
)

// ErrNotAuthenticated is returned when an operation needs a signed-in user
// and none is present.
var ErrNotAuthenticated = errors.New("no authenticated user")

// Identity is the slice of the provider's user record the core needs.
type Identity struct {
	UID      string
	Email    string
	Username string
	Avatar   string
}

// AuthProvider is the contract consumed from the authentication provider.
// Implementations emit the current identity (or nil on sign-out) to every
// registered callback, including once at registration time with the current
// state.
type AuthProvider interface {
	CurrentUser() (Identity, bool)
	OnAuthStateChanged(fn func(*Identity)) (cancel func())
}

// StaticProvider is an AuthProvider whose state is driven programmatically.
// It backs tests and local runs without a real provider.
type StaticProvider struct {
	mu        sync.Mutex
	current   *Identity
	callbacks map[int]func(*Identity)
	nextID    int
}

// NewStaticProvider returns a signed-out provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{callbacks: make(map[int]func(*Identity))}
}

// CurrentUser returns the signed-in identity, if any.
func (p *StaticProvider) CurrentUser() (Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Identity{}, false
	}
	return *p.current, true
}

// OnAuthStateChanged registers fn and immediately invokes it with the
// current state.
func (p *StaticProvider) OnAuthStateChanged(fn func(*Identity)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.callbacks[id] = fn
	current := p.current
	p.mu.Unlock()

	fn(current)

	return func() {
		p.mu.Lock()
		delete(p.callbacks, id)
		p.mu.Unlock()
	}
}

// SignIn transitions to the signed-in state and notifies callbacks.
func (p *StaticProvider) SignIn(identity Identity) {
	p.mu.Lock()
	p.current = &identity
	fns := p.snapshotCallbacks()
	p.mu.Unlock()

	for _, fn := range fns {
		fn(&identity)
	}
}

// SignOut transitions to the signed-out state and notifies callbacks.
func (p *StaticProvider) SignOut() {
	p.mu.Lock()
	p.current = nil
	fns := p.snapshotCallbacks()
	p.mu.Unlock()

	for _, fn := range fns {
		fn(nil)
	}
}

func (p *StaticProvider) snapshotCallbacks() []func(*Identity) {
	fns := make([]func(*Identity), 0, len(p.callbacks))
	for _, fn := range p.callbacks {
		fns = append(fns, fn)
	}
	return fns
}
