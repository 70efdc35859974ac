package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sia-project/analyst/internal/identity"
)

// deferredProvider withholds the initial callback until release is called,
// the way a remote provider restores state asynchronously.
type deferredProvider struct {
	*identity.Memory
	listener identity.Listener
	unsubbed int
}

func (p *deferredProvider) Subscribe(l identity.Listener) func() {
	p.listener = l
	return func() { p.unsubbed++ }
}

func (p *deferredProvider) release(id identity.Identity) { p.listener(id) }

func TestSession_LoadingUntilFirstCallback(t *testing.T) {
	p := &deferredProvider{Memory: identity.NewMemory()}
	s := New(p, nil)

	st := s.State()
	assert.True(t, st.Loading)
	_, err := s.Require()
	assert.ErrorIs(t, err, ErrLoading)

	s.Start()
	assert.True(t, s.State().Loading)

	p.release(nil)
	st = s.State()
	assert.False(t, st.Loading)
	assert.Nil(t, st.User)
	_, err = s.Require()
	assert.ErrorIs(t, err, ErrSignedOut)

	select {
	case <-s.Ready():
	default:
		t.Fatal("Ready not closed after first callback")
	}
}

func TestSession_WatchSeesChanges(t *testing.T) {
	m := identity.NewMemory()
	m.AddAccount("a@b.co", "secret", "u1")
	s := New(m, nil)
	s.Start()
	defer s.Close()

	var states []State
	s.Watch(func(st State) { states = append(states, st) })

	_, err := s.SignIn(context.Background(), "a@b.co", "secret")
	require.NoError(t, err)
	require.NoError(t, s.SignOut(context.Background()))

	require.Len(t, states, 2)
	for _, st := range states {
		assert.False(t, st.Loading)
	}
	assert.Equal(t, "u1", states[0].User.UID())
	assert.Nil(t, states[1].User)
}

func TestSession_MirrorsProvider(t *testing.T) {
	m := identity.NewMemory()
	m.AddAccount("a@b.co", "secret", "u1")
	s := New(m, nil)
	s.Start()
	defer s.Close()

	require.NoError(t, s.Wait(context.Background()))
	assert.Nil(t, s.Current())

	_, err := s.SignIn(context.Background(), "a@b.co", "secret")
	require.NoError(t, err)

	id, err := s.Require()
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", id.Email())
	assert.Same(t, id, s.Current())
}

func TestSession_SignInValidatesLocally(t *testing.T) {
	m := identity.NewMemory()
	s := New(m, nil)
	s.Start()
	defer s.Close()

	_, err := s.SignIn(context.Background(), "not-an-email", "123")
	require.ErrorIs(t, err, identity.ErrInvalidInput)
	assert.Contains(t, err.Error(), "Invalid email address.")
	assert.Contains(t, err.Error(), "Password must be at least 6 characters.")
	assert.Nil(t, s.Current())
}

func TestSession_CloseIdempotent(t *testing.T) {
	p := &deferredProvider{Memory: identity.NewMemory()}
	s := New(p, nil)
	s.Start()
	s.Start()
	s.Close()
	s.Close()
	assert.Equal(t, 1, p.unsubbed)
}

func TestSession_WaitHonoursContext(t *testing.T) {
	p := &deferredProvider{Memory: identity.NewMemory()}
	s := New(p, nil)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}
