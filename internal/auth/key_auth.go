package auth

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hookguard/hookguard/internal/config"
)

// KeyAuthenticator validates API keys against the configured bcrypt hash.
// The bcrypt comparison is deliberately slow, so verified keys are cached
// with a TTL and revalidated in the background when the entry goes stale.
type KeyAuthenticator struct {
	keyHash []byte
	cache   *AuthCache
	logger  *zap.Logger
}

// NewKeyAuthenticator creates an authenticator for the configured key hash.
func NewKeyAuthenticator(keyHash string, cacheTTL time.Duration, logger *zap.Logger) *KeyAuthenticator {
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyAuthenticator{
		keyHash: []byte(keyHash),
		cache:   NewAuthCache(cacheTTL),
		logger:  logger,
	}
}

func (a *KeyAuthenticator) Authenticate(r *http.Request) (*ClientContext, error) {
	token, err := ExtractBearerToken(r)
	if err != nil {
		return nil, err
	}

	cacheResult := a.cache.Get(token)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go a.refreshInBackground(token)
		}
		return cacheResult.Client, nil
	}

	client, err := a.verify(token)
	if err != nil {
		return nil, err
	}

	a.cache.Set(token, client)
	return client, nil
}

func (a *KeyAuthenticator) verify(token string) (*ClientContext, error) {
	if err := bcrypt.CompareHashAndPassword(a.keyHash, []byte(token)); err != nil {
		return nil, ErrUnauthenticated
	}
	return &ClientContext{ClientID: clientID(token)}, nil
}

func (a *KeyAuthenticator) refreshInBackground(token string) {
	client, err := a.verify(token)
	if err != nil {
		a.logger.Warn("background auth refresh failed, evicting key", zap.Error(err))
		a.cache.Delete(token)
		return
	}
	a.cache.Set(token, client)
}

// StaticAuthenticator is a development-only authenticator that accepts any
// hgk_ key.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(r *http.Request) (*ClientContext, error) {
	token, err := ExtractBearerToken(r)
	if err != nil {
		return nil, err
	}
	return &ClientContext{ClientID: clientID(token)}, nil
}

// AnonymousAuthenticator accepts every request without credentials.
type AnonymousAuthenticator struct{}

func (a *AnonymousAuthenticator) Authenticate(r *http.Request) (*ClientContext, error) {
	return &ClientContext{ClientID: "anonymous", Anonymous: true}, nil
}

// ForConfig picks the authenticator matching the feedback configuration: a
// configured key hash wins, otherwise anonymous access if allowed, otherwise
// the static development check.
func ForConfig(cfg config.FeedbackConfig, logger *zap.Logger) Authenticator {
	if cfg.APIKeyHash != "" {
		return NewKeyAuthenticator(cfg.APIKeyHash, 0, logger)
	}
	if cfg.AllowAnonymous {
		return &AnonymousAuthenticator{}
	}
	return NewStaticAuthenticator()
}

// clientID derives a loggable identity from a key without exposing it.
func clientID(token string) string {
	if len(token) < 12 {
		return "key-" + token[4:]
	}
	return "key-" + token[4:12]
}
