// Package auth authenticates feedback and admin HTTP clients by API key.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Authenticator validates an incoming request and returns a ClientContext.
type Authenticator interface {
	Authenticate(r *http.Request) (*ClientContext, error)
}

// ClientContext holds the authenticated client's identity.
type ClientContext struct {
	ClientID  string
	Anonymous bool
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ExtractBearerToken extracts an hgk_ API key from the Authorization header,
// falling back to the api_key query parameter for WebSocket clients that
// cannot set headers.
func ExtractBearerToken(r *http.Request) (string, error) {
	token := r.Header.Get("Authorization")
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if token == "" {
		token = r.URL.Query().Get("api_key")
	}
	if !strings.HasPrefix(token, "hgk_") {
		return "", ErrUnauthenticated
	}
	return token, nil
}
