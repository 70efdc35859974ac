package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sia-project/analyst/internal/app"
	"github.com/sia-project/analyst/internal/auth"
	"github.com/sia-project/analyst/internal/config"
	"github.com/sia-project/analyst/internal/identity"
	"github.com/sia-project/analyst/internal/logging"
	"github.com/sia-project/analyst/internal/tracing"
)

// client is what a command needs once configuration is loaded: a started
// auth session and the composed app.
type client struct {
	cfg     config.Config
	logger  *zap.Logger
	session *auth.Session
	app     *app.App

	shutdownTracing func(context.Context) error
}

var newClient = func(cmd *cobra.Command) (*client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return buildClient(cfg)
}

func buildClient(cfg config.Config) (*client, error) {
	logger, err := logging.New(logging.Options{File: cfg.Log.File, Level: cfg.Log.Level})
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	httpClient := &http.Client{}

	provider := identity.NewFirebase(identity.FirebaseConfig{
		AuthURL:    cfg.Identity.AuthURL,
		TokenURL:   cfg.Identity.TokenURL,
		APIKey:     cfg.Identity.APIKey,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	session := auth.New(provider, logger)
	session.Start()

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Options{
		Enabled:  cfg.Tracing.Enabled,
		Endpoint: cfg.Tracing.Endpoint,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	return &client{
		cfg:             cfg,
		logger:          logger,
		session:         session,
		app:             app.New(cfg, session, app.Options{HTTPClient: httpClient, Logger: logger}),
		shutdownTracing: shutdownTracing,
	}, nil
}

func (c *client) Close() {
	c.session.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.shutdownTracing(ctx); err != nil {
		c.logger.Warn("tracing shutdown", zap.Error(err))
	}
	_ = c.logger.Sync()
}

func emailFor(cmd *cobra.Command) string {
	if email, _ := cmd.Flags().GetString("email"); email != "" {
		return email
	}
	return os.Getenv("ANALYST_EMAIL")
}

func envPassword() string { return os.Getenv("ANALYST_PASSWORD") }

// signInFromEnv signs in when an email and ANALYST_PASSWORD are both set.
// Otherwise the session stays signed out and the guard reports it.
func (c *client) signInFromEnv(cmd *cobra.Command) error {
	email, password := emailFor(cmd), envPassword()
	if email == "" || password == "" {
		return nil
	}
	if _, err := c.session.SignIn(cmd.Context(), email, password); err != nil {
		return authFailure(err)
	}
	return nil
}

// protected signs in from the environment and applies the guard.
func protected(cmd *cobra.Command) (*client, error) {
	c, err := newClient(cmd)
	if err != nil {
		return nil, err
	}
	if err := c.signInFromEnv(cmd); err != nil {
		c.Close()
		return nil, err
	}
	if _, err := c.app.Guard(cmd.Context()); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func authFailure(err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		return err
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrEmailExists):
		return fmt.Errorf("authentication failed: %w", err)
	default:
		return fmt.Errorf("authentication failed: %v", err)
	}
}

// readLine prompts on out and returns the next trimmed line from in. A final
// line without a newline is returned before io.EOF.
func readLine(in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(out, prompt)
	}
	line, err := in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
