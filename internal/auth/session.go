// Package auth mirrors the identity provider's auth state for the rest of the
// client. A Session is created explicitly, started once and closed on
// teardown; every other component reads it and none writes it.
package auth

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sia-project/analyst/internal/identity"
	"github.com/sia-project/analyst/internal/logging"
)

var (
	// ErrLoading is returned by Require before the provider's first callback.
	ErrLoading = errors.New("auth state still loading")

	// ErrSignedOut is returned by Require once loading finished with no user.
	ErrSignedOut = errors.New("not signed in")
)

// State is the observable session snapshot.
type State struct {
	User    identity.Identity
	Loading bool
}

// Session tracks the current identity as reported by a Provider.
type Session struct {
	provider identity.Provider
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	started  bool
	unsub    func()
	ready    chan struct{}
	watchers []func(State)
}

// New returns a session in the loading state. Call Start to subscribe.
func New(provider identity.Provider, logger *zap.Logger) *Session {
	logger = logging.OrNop(logger)
	return &Session{
		provider: provider,
		logger:   logger.Named("auth"),
		state:    State{Loading: true},
		ready:    make(chan struct{}),
	}
}

// Start subscribes to the provider. Calling it again is a no-op.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	unsub := s.provider.Subscribe(s.onChange)

	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
}

// Close unsubscribes from the provider. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (s *Session) onChange(id identity.Identity) {
	s.mu.Lock()
	wasLoading := s.state.Loading
	s.state = State{User: id, Loading: false}
	snap := s.state
	watchers := append([]func(State){}, s.watchers...)
	s.mu.Unlock()

	if wasLoading {
		close(s.ready)
	}
	if id != nil {
		s.logger.Debug("auth state changed", zap.String("uid", id.UID()))
	} else {
		s.logger.Debug("auth state changed", zap.Bool("signed_in", false))
	}
	for _, w := range watchers {
		w(snap)
	}
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the signed-in identity, or nil.
func (s *Session) Current() identity.Identity {
	return s.State().User
}

// Ready is closed once the provider has reported the initial state.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Wait blocks until loading has finished or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch registers fn for every subsequent state change.
func (s *Session) Watch(fn func(State)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// Require is the guard for data-dependent views.
func (s *Session) Require() (identity.Identity, error) {
	st := s.State()
	switch {
	case st.Loading:
		return nil, ErrLoading
	case st.User == nil:
		return nil, ErrSignedOut
	default:
		return st.User, nil
	}
}

func (s *Session) SignIn(ctx context.Context, email, password string) (identity.Identity, error) {
	return s.provider.SignIn(ctx, identity.Credentials{Email: email, Password: password})
}

func (s *Session) SignUp(ctx context.Context, email, password string) (identity.Identity, error) {
	return s.provider.SignUp(ctx, identity.Credentials{Email: email, Password: password})
}

func (s *Session) SignOut(ctx context.Context) error {
	return s.provider.SignOut(ctx)
}
