package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Identity is what a provider knows about the user: a verified email and a
// display name to seed the local username.
type Identity struct {
	Email    string
	Username string
}

// ErrMissingEmail is returned when the provider cannot produce a usable
// primary email for the account.
var ErrMissingEmail = errors.New("oauth provider returned no primary email")

// Provider runs the authorization-code exchange and resolves the external
// identity for one upstream.
type Provider interface {
	Name() string
	Exchange(ctx context.Context, code string) (string, error)
	Fetch(ctx context.Context, accessToken string) (Identity, error)
}

type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown oauth provider %q", name)
	}
	return p, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
