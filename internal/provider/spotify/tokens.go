// Package spotify wraps the zmb3/spotify/v2 SDK with the token lifecycle
// (§4.H) and the two polling surfaces the session engine and reconciler
// need: an OAuth2 refresh flow with a persist-after-refresh discipline
// generalized from a single local token file to per-account rows in
// internal/store.
package spotify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/justestif/scrobbld/internal/store"
)

// TokenSource resolves and refreshes per-account access tokens (§4.H).
// It uses golang.org/x/oauth2 directly against the provider's token
// endpoint rather than the SDK's auto-refreshing transport, because
// §4.H requires the refreshed token to be persisted back to the account
// row — a side effect the SDK's transport has no hook for.
type TokenSource struct {
	oauthCfg     oauth2.Config
	accounts     *store.AccountRepository
	safetyMargin time.Duration
}

// NewTokenSource builds a TokenSource using the OAuth2 client credentials
// for refresh-token grants.
func NewTokenSource(clientID, clientSecret, redirectURI string, accounts *store.AccountRepository, safetyMargin time.Duration) *TokenSource {
	if safetyMargin <= 0 {
		safetyMargin = 60 * time.Second
	}
	return &TokenSource{
		oauthCfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
		accounts:     accounts,
		safetyMargin: safetyMargin,
	}
}

// GetValidAccessToken returns a live access token for account, refreshing
// it via a refresh-token grant if expired (§4.H). A refreshed token's new
// refresh token is persisted only if the provider supplied one; otherwise
// the existing refresh token is kept.
func (t *TokenSource) GetValidAccessToken(ctx context.Context, account *store.Account) (string, error) {
	if account.ExpiresAt.After(time.Now().Add(t.safetyMargin)) {
		return account.AccessToken, nil
	}

	oldToken := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		Expiry:       account.ExpiresAt,
	}

	newToken, err := t.oauthCfg.TokenSource(ctx, oldToken).Token()
	if err != nil {
		return "", fmt.Errorf("refreshing access token: %w", err)
	}

	refreshToken := newToken.RefreshToken
	if refreshToken == "" {
		refreshToken = account.RefreshToken
	}

	if err := t.accounts.UpdateTokens(ctx, account.ID, newToken.AccessToken, refreshToken, newToken.Expiry); err != nil {
		return "", fmt.Errorf("persisting refreshed tokens: %w", err)
	}

	account.AccessToken = newToken.AccessToken
	account.RefreshToken = refreshToken
	account.ExpiresAt = newToken.Expiry
	return account.AccessToken, nil
}

// ClientFor builds an authenticated *spotify.Client for account, first
// resolving a valid access token.
func (t *TokenSource) ClientFor(ctx context.Context, account *store.Account) (*spotify.Client, error) {
	accessToken, err := t.GetValidAccessToken(ctx, account)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	return newAPIClient(httpClient), nil
}

func newAPIClient(httpClient *http.Client) *spotify.Client {
	return spotify.New(httpClient, spotify.WithRetry(true))
}
