package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  []string
	}{
		{"valid", Credentials{Email: "a@b.co", Password: "secret"}, nil},
		{"bad email", Credentials{Email: "nope", Password: "secret"}, []string{"Invalid email address."}},
		{"short password", Credentials{Email: "a@b.co", Password: "12345"}, []string{"Password must be at least 6 characters."}},
		{"both", Credentials{}, []string{"Invalid email address.", "Password must be at least 6 characters."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidInput)
			for _, msg := range tt.want {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}

func TestMemory_SubscribeDeliversCurrentState(t *testing.T) {
	m := NewMemory()
	m.AddAccount("a@b.co", "secret", "u1")

	var mu sync.Mutex
	var seen []Identity
	unsub := m.Subscribe(func(id Identity) {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	})
	defer unsub()

	_, err := m.SignIn(context.Background(), Credentials{Email: "a@b.co", Password: "secret"})
	require.NoError(t, err)
	require.NoError(t, m.SignOut(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Nil(t, seen[0])
	require.NotNil(t, seen[1])
	assert.Equal(t, "u1", seen[1].UID())
	assert.Nil(t, seen[2])
}

func TestMemory_UnsubscribeStopsDelivery(t *testing.T) {
	m := NewMemory()
	calls := 0
	unsub := m.Subscribe(func(Identity) { calls++ })
	unsub()
	unsub()

	_, err := m.SignUp(context.Background(), Credentials{Email: "new@b.co", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestMemory_SignInErrors(t *testing.T) {
	m := NewMemory()
	m.AddAccount("a@b.co", "secret", "u1")

	_, err := m.SignIn(context.Background(), Credentials{Email: "a@b.co", Password: "wrong!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = m.SignUp(context.Background(), Credentials{Email: "a@b.co", Password: "secret"})
	assert.ErrorIs(t, err, ErrEmailExists)

	_, err = m.SignIn(context.Background(), Credentials{Email: "bad", Password: "secret"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Nil(t, m.Current())
}

func TestMemory_TokenFreshPerCall(t *testing.T) {
	m := NewMemory()
	m.AddAccount("a@b.co", "secret", "u1")
	id, err := m.SignIn(context.Background(), Credentials{Email: "a@b.co", Password: "secret"})
	require.NoError(t, err)

	t1, err := id.Token(context.Background())
	require.NoError(t, err)
	t2, err := id.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mem-u1-1", t1)
	assert.Equal(t, "mem-u1-2", t2)

	require.NoError(t, m.SignOut(context.Background()))
	_, err = id.Token(context.Background())
	assert.ErrorIs(t, err, ErrSignedOut)
}

func TestMemory_TokenErr(t *testing.T) {
	m := NewMemory()
	m.AddAccount("a@b.co", "secret", "u1")
	m.TokenErr = errors.New("provider down")
	id, err := m.SignIn(context.Background(), Credentials{Email: "a@b.co", Password: "secret"})
	require.NoError(t, err)

	_, err = id.Token(context.Background())
	assert.EqualError(t, err, "provider down")
}

func signedIDToken(t *testing.T, uid string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     uid,
		"user_id": uid,
		"email":   uid + "@example.com",
		"exp":     exp.Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

type fakeFirebase struct {
	idToken      string
	refreshed    string
	refreshCalls int
	signInErr    string
	gotKey       string
	gotRefresh   string
}

func (f *fakeFirebase) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts:signInWithPassword", func(w http.ResponseWriter, r *http.Request) {
		f.gotKey = r.URL.Query().Get("key")
		var req authRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if f.signInErr != "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 400, "message": f.signInErr}})
			return
		}
		json.NewEncoder(w).Encode(authResponse{
			LocalID:      "u1",
			Email:        req.Email,
			IDToken:      f.idToken,
			RefreshToken: "refresh-1",
			ExpiresIn:    "3600",
		})
	})
	mux.HandleFunc("/v1/token", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls++
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.gotRefresh = r.PostForm.Get("refresh_token")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  f.refreshed,
			"id_token":      f.refreshed,
			"refresh_token": "refresh-2",
			"expires_in":    3600,
			"token_type":    "Bearer",
			"user_id":       "u1",
		})
	})
	return mux
}

func newTestFirebase(t *testing.T, fake *fakeFirebase) *Firebase {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewFirebase(FirebaseConfig{
		AuthURL:    srv.URL + "/v1",
		TokenURL:   srv.URL + "/v1",
		APIKey:     "api-key",
		HTTPClient: srv.Client(),
	})
}

func TestFirebase_SignInReusesValidToken(t *testing.T) {
	fake := &fakeFirebase{idToken: signedIDToken(t, "u1", time.Now().Add(time.Hour))}
	fb := newTestFirebase(t, fake)

	var last Identity
	unsub := fb.Subscribe(func(id Identity) { last = id })
	defer unsub()

	id, err := fb.SignIn(context.Background(), Credentials{Email: "u1@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "api-key", fake.gotKey)
	assert.Equal(t, "u1", id.UID())
	assert.Equal(t, "u1@example.com", id.Email())
	assert.Same(t, id, last)

	tok, err := id.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fake.idToken, tok)
	assert.Equal(t, 0, fake.refreshCalls)
}

func TestFirebase_TokenRefreshesWhenExpired(t *testing.T) {
	fake := &fakeFirebase{
		idToken:   signedIDToken(t, "u1", time.Now().Add(-time.Minute)),
		refreshed: signedIDToken(t, "u1", time.Now().Add(time.Hour)),
	}
	fb := newTestFirebase(t, fake)

	id, err := fb.SignIn(context.Background(), Credentials{Email: "u1@example.com", Password: "secret"})
	require.NoError(t, err)

	tok, err := id.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fake.refreshed, tok)
	assert.Equal(t, 1, fake.refreshCalls)
	assert.Equal(t, "refresh-1", fake.gotRefresh)
}

func TestFirebase_SignOut(t *testing.T) {
	fake := &fakeFirebase{idToken: signedIDToken(t, "u1", time.Now().Add(time.Hour))}
	fb := newTestFirebase(t, fake)

	id, err := fb.SignIn(context.Background(), Credentials{Email: "u1@example.com", Password: "secret"})
	require.NoError(t, err)

	var last Identity = id
	unsub := fb.Subscribe(func(i Identity) { last = i })
	defer unsub()

	require.NoError(t, fb.SignOut(context.Background()))
	assert.Nil(t, last)

	_, err = id.Token(context.Background())
	assert.ErrorIs(t, err, ErrSignedOut)
}

func TestFirebase_ProviderErrors(t *testing.T) {
	tests := []struct {
		message string
		want    error
	}{
		{"INVALID_LOGIN_CREDENTIALS", ErrInvalidCredentials},
		{"EMAIL_NOT_FOUND", ErrInvalidCredentials},
		{"EMAIL_EXISTS", ErrEmailExists},
		{"WEAK_PASSWORD : Password should be at least 6 characters", ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			fake := &fakeFirebase{signInErr: tt.message}
			fb := newTestFirebase(t, fake)

			_, err := fb.SignIn(context.Background(), Credentials{Email: "u1@example.com", Password: "secret"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFirebase_ValidatesBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	fb := NewFirebase(FirebaseConfig{AuthURL: srv.URL, TokenURL: srv.URL, APIKey: "k"})
	_, err := fb.SignUp(context.Background(), Credentials{Email: "x", Password: "1"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, called)
}

func TestProviderError_UnstructuredBody(t *testing.T) {
	err := providerError(http.StatusBadGateway, []byte(""))
	assert.True(t, strings.Contains(err.Error(), "Bad Gateway"), err.Error())
}
