package server

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AuthError is the JSON body of a 401 response.
type AuthError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *AuthError) Error() string { return e.Message }

var (
	ErrMissingKey = &AuthError{Code: "MISSING_KEY", Message: "api key required"}
	ErrInvalidKey = &AuthError{Code: "INVALID_KEY", Message: "invalid api key"}
)

// HashAPIKey returns the bcrypt hash stored in server.api_key_hash.
func HashAPIKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("api key is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// publicPaths never require a key.
var publicPaths = map[string]bool{
	"/healthz":                     true,
	"/.well-known/agent.json":      true,
	"/.well-known/agent-card.json": true,
}

// requireKey rejects requests without a valid key when a hash is configured.
// Browsers cannot set headers on websocket upgrades, so /ws/ paths also
// accept the key in the api_key query parameter.
func (s *Server) requireKey(next http.Handler) http.Handler {
	if s.apiKeyHash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		key, err := extractKey(r)
		if err == nil {
			err = s.checkKey(key)
		}
		if err != nil {
			s.log.Debug("rejected %s %s: %v", r.Method, r.URL.Path, err)
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkKey(key string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(s.apiKeyHash), []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// extractKey reads the key from the Authorization header.
func extractKey(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			if key := r.URL.Query().Get("api_key"); key != "" {
				return key, nil
			}
		}
		return "", ErrMissingKey
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", ErrInvalidKey
	}

	key := strings.TrimPrefix(authHeader, "Bearer ")
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

func writeAuthError(w http.ResponseWriter, err error) {
	authErr, ok := err.(*AuthError)
	if !ok {
		authErr = &AuthError{Code: "AUTH_ERROR", Message: err.Error()}
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="netbot"`)
	writeJSON(w, http.StatusUnauthorized, authErr)
}
