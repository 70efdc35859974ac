// Package app composes the client: one auth session, one gateway, one
// document store, and chat sessions created on demand per document.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/sia-project/analyst/internal/auth"
	"github.com/sia-project/analyst/internal/chat"
	"github.com/sia-project/analyst/internal/config"
	"github.com/sia-project/analyst/internal/documents"
	"github.com/sia-project/analyst/internal/gateway"
	"github.com/sia-project/analyst/internal/identity"
	"github.com/sia-project/analyst/internal/logging"
)

// ErrNotSignedIn is what protected commands report instead of rendering.
var ErrNotSignedIn = errors.New("not signed in: run 'analyst login'")

// Options overrides collaborators New would otherwise build.
type Options struct {
	// HTTPClient is shared by every backend call. Defaults to a client with
	// no timeout; callers bound calls through their context.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type App struct {
	session *auth.Session
	gateway *gateway.Gateway
	docs    *documents.Store
	logger  *zap.Logger
	client  *http.Client
}

// New wires the gateway and document store against cfg.Backend.URL. The
// session is owned by the caller, who starts and closes it.
func New(cfg config.Config, session *auth.Session, opts Options) *App {
	logger := logging.OrNop(opts.Logger)
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	gw := gateway.New(cfg.Backend.URL, session, client, logger)
	return &App{
		session: session,
		gateway: gw,
		docs:    documents.NewStore(gw, logger),
		logger:  logger,
		client:  client,
	}
}

func (a *App) Session() *auth.Session { return a.session }

func (a *App) Gateway() *gateway.Gateway { return a.gateway }

func (a *App) Documents() *documents.Store { return a.docs }

// Chat starts an empty transcript for documentID.
func (a *App) Chat(documentID string) *chat.Session {
	return chat.New(a.gateway, documentID, a.logger)
}

// Guard waits for the session to finish loading and returns the signed-in
// identity, or ErrNotSignedIn.
func (a *App) Guard(ctx context.Context) (identity.Identity, error) {
	if err := a.session.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for auth state: %w", err)
	}
	id, err := a.session.Require()
	if errors.Is(err, auth.ErrSignedOut) {
		return nil, ErrNotSignedIn
	}
	return id, err
}

// Dashboard guards, then loads the document list the way the dashboard
// view does on mount.
func (a *App) Dashboard(ctx context.Context) ([]documents.Document, error) {
	if _, err := a.Guard(ctx); err != nil {
		return nil, err
	}
	if err := a.docs.FetchAll(ctx); err != nil {
		return nil, err
	}
	return a.docs.Documents(), nil
}
