package cli

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthConfig holds OAuth2 client credentials for the API
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// Enabled reports whether a token endpoint is configured
func (a AuthConfig) Enabled() bool {
	return a.TokenURL != ""
}

// HTTPClient returns a client that attaches client-credentials tokens to
// every request, or a plain client when auth is not configured.
func HTTPClient(ctx context.Context, auth AuthConfig) *http.Client {
	base := &http.Client{Timeout: DefaultTimeout}
	if !auth.Enabled() {
		return base
	}

	cfg := clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       auth.Scopes,
	}
	client := cfg.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	client.Timeout = DefaultTimeout
	return client
}
