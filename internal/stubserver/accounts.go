package stubserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// The /v1 routes emulate the subset of the Identity Toolkit and Secure Token
// REST APIs that identity.Firebase calls.

type accountRequest struct {
	Email             string `json:"email" validate:"required,email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type accountResponse struct {
	Kind         string `json:"kind"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	Registered   bool   `json:"registered,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
}

var validate = validator.New()

// providerError writes the provider's error envelope.
func providerError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"errors":  []map[string]string{{"message": message, "reason": "invalid"}},
		},
	})
}

func (s *Server) checkAPIKey(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.APIKey == "" || r.URL.Query().Get("key") == s.cfg.APIKey {
		return true
	}
	providerError(w, http.StatusBadRequest, "API key not valid. Please pass a valid API key.")
	return false
}

func (s *Server) decodeAccount(w http.ResponseWriter, r *http.Request) (accountRequest, bool) {
	var req accountRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		providerError(w, http.StatusBadRequest, "INVALID_JSON")
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		providerError(w, http.StatusBadRequest, "INVALID_EMAIL")
		return req, false
	}
	return req, true
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if !s.checkAPIKey(w, r) {
		return
	}
	req, ok := s.decodeAccount(w, r)
	if !ok {
		return
	}
	if len(req.Password) < 6 {
		providerError(w, http.StatusBadRequest, "WEAK_PASSWORD : Password should be at least 6 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		providerError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	u, err := s.store.CreateUser(r.Context(), req.Email, string(hash))
	if errors.Is(err, ErrEmailExists) {
		providerError(w, http.StatusBadRequest, "EMAIL_EXISTS")
		return
	}
	if err != nil {
		s.logger.Error("creating user", zap.Error(err))
		providerError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	s.logger.Info("account created", zap.String("uid", u.ID))
	s.writeSession(w, r, u, "identitytoolkit#SignupNewUserResponse", false)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if !s.checkAPIKey(w, r) {
		return
	}
	req, ok := s.decodeAccount(w, r)
	if !ok {
		return
	}

	u, err := s.store.UserByEmail(r.Context(), req.Email)
	if errors.Is(err, ErrNotFound) {
		providerError(w, http.StatusBadRequest, "INVALID_LOGIN_CREDENTIALS")
		return
	}
	if err != nil {
		s.logger.Error("looking up user", zap.Error(err))
		providerError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		providerError(w, http.StatusBadRequest, "INVALID_LOGIN_CREDENTIALS")
		return
	}
	s.writeSession(w, r, u, "identitytoolkit#VerifyPasswordResponse", true)
}

func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, u User, kind string, registered bool) {
	idToken, err := s.tokens.issue(u)
	if err != nil {
		providerError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	refresh, err := s.store.IssueRefreshToken(r.Context(), u.ID)
	if err != nil {
		s.logger.Error("issuing refresh token", zap.Error(err))
		providerError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accountResponse{
		Kind:         kind,
		LocalID:      u.ID,
		Email:        u.Email,
		IDToken:      idToken,
		RefreshToken: refresh,
		ExpiresIn:    strconv.Itoa(int(s.tokens.ttl.Seconds())),
		Registered:   registered,
	})
}

// handleToken exchanges a refresh token for a new ID token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.checkAPIKey(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		providerError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if r.PostForm.Get("grant_type") != "refresh_token" {
		providerError(w, http.StatusBadRequest, "INVALID_GRANT_TYPE")
		return
	}
	u, err := s.store.RefreshTokenOwner(r.Context(), r.PostForm.Get("refresh_token"))
	if err != nil {
		providerError(w, http.StatusBadRequest, "INVALID_REFRESH_TOKEN")
		return
	}
	idToken, err := s.tokens.issue(u)
	if err != nil {
		providerError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{
		AccessToken:  idToken,
		IDToken:      idToken,
		RefreshToken: r.PostForm.Get("refresh_token"),
		ExpiresIn:    strconv.Itoa(int(s.tokens.ttl.Seconds())),
		TokenType:    "Bearer",
		UserID:       u.ID,
	})
}
