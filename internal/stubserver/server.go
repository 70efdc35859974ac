// Package stubserver is a local stand-in for the analysis backend and the
// identity provider. It implements the four document endpoints and the
// password sign-in REST calls against SQLite so the client can be run and
// tested without external services. Answers are canned, not generated.
package stubserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sia-project/analyst/internal/logging"
)

type Config struct {
	// DataDir holds stub.db; ":memory:" keeps everything in memory.
	DataDir string
	// APIKey, when set, must match the ?key= parameter on identity calls.
	APIKey string
	// SigningKey signs ID tokens. A random key is generated when empty.
	SigningKey []byte
	// TokenTTL is the ID-token lifetime. Defaults to one hour.
	TokenTTL   time.Duration
	BcryptCost int
	Logger     *zap.Logger
}

type Server struct {
	cfg    Config
	store  *Store
	tokens tokenIssuer
	logger *zap.Logger
}

// New opens the store and prepares the handlers.
func New(cfg Config) (*Server, error) {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if len(cfg.SigningKey) == 0 {
		cfg.SigningKey = make([]byte, 32)
		if _, err := rand.Read(cfg.SigningKey); err != nil {
			return nil, fmt.Errorf("generating signing key: %w", err)
		}
	}
	logger := logging.OrNop(cfg.Logger)

	store, err := Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	return &Server{
		cfg:    cfg,
		store:  store,
		tokens: tokenIssuer{key: cfg.SigningKey, ttl: cfg.TokenTTL, now: time.Now},
		logger: logger.Named("stub"),
	}, nil
}

// Store exposes the database for tests and seeding.
func (s *Server) Store() *Store { return s.store }

func (s *Server) Close() error { return s.store.Close() }

// Handler returns the routes: identity emulation under /v1, the backend
// under /api, and /health.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts:signUp", s.handleSignUp)
		r.Post("/accounts:signInWithPassword", s.handleSignIn)
		r.Post("/token", s.handleToken)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(s.tokens))
		r.Get("/documents", s.handleListDocuments)
		r.Post("/documents/upload", s.handleUpload)
		r.Delete("/documents/delete", s.handleDelete)
		r.Post("/chat", s.handleChat)
	})
	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", r.Header.Get("X-Request-ID")),
		)
	})
}

// Serve runs the HTTP server on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
