package identity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Memory is an in-process Provider used by tests and offline demos. Every
// Token call mints a new token of the form "<prefix><uid>-<n>".
type Memory struct {
	notifier

	accountsMu sync.Mutex
	accounts   map[string]string // email -> password
	uids       map[string]string // email -> uid
	// TokenPrefix is prepended to minted tokens. Defaults to "mem-".
	TokenPrefix string
	// TokenErr, when set, makes Token fail.
	TokenErr error
}

// NewMemory returns a Memory provider with no accounts.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]string),
		uids:     make(map[string]string),
	}
}

// AddAccount registers an account without signing in.
func (m *Memory) AddAccount(email, password, uid string) {
	m.accountsMu.Lock()
	defer m.accountsMu.Unlock()
	m.accounts[email] = password
	m.uids[email] = uid
}

func (m *Memory) SignIn(_ context.Context, c Credentials) (Identity, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m.accountsMu.Lock()
	pw, ok := m.accounts[c.Email]
	uid := m.uids[c.Email]
	m.accountsMu.Unlock()
	if !ok || pw != c.Password {
		return nil, ErrInvalidCredentials
	}
	u := &memoryUser{provider: m, uid: uid, email: c.Email}
	m.publish(u)
	return u, nil
}

func (m *Memory) SignUp(_ context.Context, c Credentials) (Identity, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m.accountsMu.Lock()
	if _, exists := m.accounts[c.Email]; exists {
		m.accountsMu.Unlock()
		return nil, ErrEmailExists
	}
	uid := fmt.Sprintf("uid-%d", len(m.accounts)+1)
	m.accounts[c.Email] = c.Password
	m.uids[c.Email] = uid
	m.accountsMu.Unlock()

	u := &memoryUser{provider: m, uid: uid, email: c.Email}
	m.publish(u)
	return u, nil
}

func (m *Memory) SignOut(context.Context) error {
	if cur, ok := m.get().(*memoryUser); ok {
		cur.signedOut.Store(true)
	}
	m.publish(nil)
	return nil
}

func (m *Memory) Subscribe(l Listener) func() {
	return m.subscribe(l)
}

// Current returns the signed-in identity, or nil.
func (m *Memory) Current() Identity {
	return m.get()
}

type memoryUser struct {
	provider  *Memory
	uid       string
	email     string
	minted    atomic.Int64
	signedOut atomic.Bool
}

func (u *memoryUser) UID() string   { return u.uid }
func (u *memoryUser) Email() string { return u.email }

func (u *memoryUser) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if u.signedOut.Load() {
		return "", ErrSignedOut
	}
	if u.provider.TokenErr != nil {
		return "", u.provider.TokenErr
	}
	prefix := u.provider.TokenPrefix
	if prefix == "" {
		prefix = "mem-"
	}
	n := u.minted.Add(1)
	return fmt.Sprintf("%s%s-%d", prefix, u.uid, n), nil
}
