// Package identity is the client side of the external identity provider:
// email/password sign-in and sign-up, sign-out, an auth-state subscription and
// short-lived bearer tokens minted on demand.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidInput indicates credentials failed local validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials indicates wrong email/password combination.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailExists indicates sign-up for an email that already has an account.
	ErrEmailExists = errors.New("an account with this email already exists")

	// ErrSignedOut is returned by Identity.Token after the identity was signed out.
	ErrSignedOut = errors.New("identity signed out")
)

// Identity is an authenticated user as reported by the provider.
type Identity interface {
	UID() string
	Email() string
	// Token returns a currently valid bearer token, refreshing it if needed.
	Token(ctx context.Context) (string, error)
}

// Listener receives auth-state changes. A nil Identity means signed out.
type Listener func(Identity)

// Provider is the identity-provider collaborator.
type Provider interface {
	SignIn(ctx context.Context, c Credentials) (Identity, error)
	SignUp(ctx context.Context, c Credentials) (Identity, error)
	SignOut(ctx context.Context) error
	// Subscribe registers l and delivers the current state to it. The
	// returned function unsubscribes and is safe to call more than once.
	Subscribe(l Listener) (unsubscribe func())
}

// Credentials is the sign-in / sign-up form.
type Credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the form locally before any provider call.
func (c Credentials) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "Email":
			msgs = append(msgs, "Invalid email address.")
		case "Password":
			msgs = append(msgs, "Password must be at least 6 characters.")
		default:
			msgs = append(msgs, fe.Error())
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, " "))
}

// notifier holds the provider's current identity and fans state changes out
// to subscribers. Deliveries are serialised so every listener observes the
// same order. Listeners must not call back into the provider.
type notifier struct {
	deliver sync.Mutex

	mu        sync.Mutex
	current   Identity
	listeners map[int]Listener
	next      int
}

func (n *notifier) subscribe(l Listener) func() {
	n.deliver.Lock()
	defer n.deliver.Unlock()

	n.mu.Lock()
	if n.listeners == nil {
		n.listeners = make(map[int]Listener)
	}
	id := n.next
	n.next++
	n.listeners[id] = l
	cur := n.current
	n.mu.Unlock()

	l(cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) publish(id Identity) {
	n.deliver.Lock()
	defer n.deliver.Unlock()

	n.mu.Lock()
	n.current = id
	ls := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		ls = append(ls, l)
	}
	n.mu.Unlock()

	for _, l := range ls {
		l(id)
	}
}

func (n *notifier) get() Identity {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}
