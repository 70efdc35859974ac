package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/sia-project/analyst/internal/logging"
)

// FirebaseConfig configures the REST identity provider.
type FirebaseConfig struct {
	// AuthURL is the Identity Toolkit base, e.g. https://identitytoolkit.googleapis.com/v1.
	AuthURL string
	// TokenURL is the Secure Token base, e.g. https://securetoken.googleapis.com/v1.
	TokenURL string
	APIKey   string
	// HTTPClient is used for sign-in and token refresh. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Firebase signs users in against a Firebase Auth compatible REST API.
// Identity and refresh tokens are kept in memory only.
type Firebase struct {
	notifier

	cfg    FirebaseConfig
	client *http.Client
	logger *zap.Logger
}

// NewFirebase returns a provider; nobody is signed in initially.
func NewFirebase(cfg FirebaseConfig) *Firebase {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := logging.OrNop(cfg.Logger)
	return &Firebase{cfg: cfg, client: client, logger: logger.Named("identity")}
}

type authRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type authResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *Firebase) SignIn(ctx context.Context, c Credentials) (Identity, error) {
	return f.authenticate(ctx, "accounts:signInWithPassword", c)
}

func (f *Firebase) SignUp(ctx context.Context, c Credentials) (Identity, error) {
	return f.authenticate(ctx, "accounts:signUp", c)
}

func (f *Firebase) SignOut(context.Context) error {
	if cur, ok := f.get().(*firebaseUser); ok {
		cur.signedOut.Store(true)
		f.logger.Info("signed out", zap.String("uid", cur.uid))
	}
	f.publish(nil)
	return nil
}

func (f *Firebase) Subscribe(l Listener) func() {
	return f.subscribe(l)
}

func (f *Firebase) authenticate(ctx context.Context, endpoint string, c Credentials) (Identity, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(authRequest{Email: c.Email, Password: c.Password, ReturnSecureToken: true})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	u := strings.TrimRight(f.cfg.AuthURL, "/") + "/" + endpoint + "?key=" + url.QueryEscape(f.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider not reachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading identity response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, providerError(resp.StatusCode, body)
	}

	var ar authResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("decoding identity response: %w", err)
	}
	if ar.IDToken == "" {
		return nil, errors.New("identity response carried no token")
	}

	user := f.newUser(ar)
	f.logger.Info("signed in", zap.String("uid", user.uid), zap.String("endpoint", endpoint))
	f.publish(user)
	return user, nil
}

func (f *Firebase) newUser(ar authResponse) *firebaseUser {
	claims := peekClaims(ar.IDToken)

	uid := ar.LocalID
	if uid == "" {
		uid = claims.uid
	}
	email := ar.Email
	if email == "" {
		email = claims.email
	}

	expiry := claims.expiry
	if expiry.IsZero() {
		secs, err := strconv.Atoi(ar.ExpiresIn)
		if err != nil || secs <= 0 {
			secs = 3600
		}
		expiry = time.Now().Add(time.Duration(secs) * time.Second)
	}

	oc := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(f.cfg.TokenURL, "/") + "/token?key=" + url.QueryEscape(f.cfg.APIKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, f.client)
	initial := &oauth2.Token{
		AccessToken:  ar.IDToken,
		TokenType:    "Bearer",
		RefreshToken: ar.RefreshToken,
		Expiry:       expiry,
	}

	return &firebaseUser{
		uid:    uid,
		email:  email,
		source: oc.TokenSource(refreshCtx, initial),
	}
}

func providerError(status int, body []byte) error {
	var eb apiErrorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error.Message == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return fmt.Errorf("identity provider returned %d: %s", status, msg)
	}

	code := eb.Error.Message
	if i := strings.IndexAny(code, " :"); i > 0 {
		code = code[:i]
	}
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		return ErrInvalidCredentials
	case "EMAIL_EXISTS":
		return ErrEmailExists
	case "WEAK_PASSWORD":
		return fmt.Errorf("%w: Password must be at least 6 characters.", ErrInvalidInput)
	case "INVALID_EMAIL":
		return fmt.Errorf("%w: Invalid email address.", ErrInvalidInput)
	default:
		return fmt.Errorf("identity provider returned %d: %s", status, eb.Error.Message)
	}
}

type tokenClaims struct {
	uid    string
	email  string
	expiry time.Time
}

// peekClaims reads the ID token's claims without verifying its signature;
// verification is the backend's job.
func peekClaims(idToken string) tokenClaims {
	var out tokenClaims
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return out
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.expiry = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil {
		out.uid = sub
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		out.uid = uid
	}
	if email, ok := claims["email"].(string); ok {
		out.email = email
	}
	return out
}

type firebaseUser struct {
	uid       string
	email     string
	source    oauth2.TokenSource
	signedOut atomic.Bool
}

func (u *firebaseUser) UID() string   { return u.uid }
func (u *firebaseUser) Email() string { return u.email }

// Token returns the current ID token, exchanging the refresh token when the
// cached one is within oauth2's expiry window.
func (u *firebaseUser) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if u.signedOut.Load() {
		return "", ErrSignedOut
	}
	tok, err := u.source.Token()
	if err != nil {
		return "", fmt.Errorf("refreshing identity token: %w", err)
	}
	if idt, ok := tok.Extra("id_token").(string); ok && idt != "" {
		return idt, nil
	}
	return tok.AccessToken, nil
}
