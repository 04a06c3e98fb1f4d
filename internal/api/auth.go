package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/justestif/scrobbld/internal/store"
)

const oauthStateCookie = "scrobbld_oauth_state"

// authHandlers implements the streaming-provider authorization-code
// grant (§6: "standard authorization-code + refresh-token grants").
// §1 lists identity/OAuth redirect handling as out of scope for the
// core, but an Account row has to originate somewhere: an
// authorization-code grant handled over HTTP, generalized from a local
// single-user token file to a server-side per-user Account upsert.
type authHandlers struct {
	oauthCfg oauth2.Config
	users    *store.UserRepository
	accounts *store.AccountRepository
	log      zerolog.Logger
}

func newAuthHandlers(clientID, clientSecret, redirectURI string, db *store.DB, log zerolog.Logger) *authHandlers {
	return &authHandlers{
		oauthCfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes: []string{
				"user-read-currently-playing",
				"user-read-recently-played",
				"user-read-email",
			},
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
		users:    db.Users(),
		accounts: db.Accounts(),
		log:      log.With().Str("component", "api.auth").Logger(),
	}
}

// login redirects to the provider's consent screen (GET /auth/login).
func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate state")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, h.oauthCfg.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// callback exchanges the authorization code for tokens and upserts the
// User/Account rows (GET /auth/callback).
func (h *authHandlers) callback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+errMsg)
		return
	}

	code := r.URL.Query().Get("code")
	token, err := h.oauthCfg.Exchange(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("exchanging code: %v", err))
		return
	}

	httpClient := oauth2.NewClient(r.Context(), oauth2.StaticTokenSource(token))
	api := spotify.New(httpClient)
	profile, err := api.CurrentUser(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("fetching profile: %v", err))
		return
	}

	account, err := h.upsertAccountForProfile(r.Context(), profile, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": account.UserID,
	})
}

func (h *authHandlers) upsertAccountForProfile(ctx context.Context, profile *spotify.PrivateUser, token *oauth2.Token) (*store.Account, error) {
	existing, err := h.accounts.GetByExternalID(ctx, store.ProviderSpotify, string(profile.ID))
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	var userID uuid.UUID
	if existing != nil {
		userID = existing.UserID
	} else {
		email := profile.Email
		if email == "" {
			email = fmt.Sprintf("%s@spotify.placeholder", profile.ID)
		}

		user, err := h.users.GetByEmail(ctx, email)
		if err == store.ErrNotFound {
			user = &store.User{Email: email, Role: store.RoleUser}
			if err := h.users.Create(ctx, user); err != nil {
				return nil, fmt.Errorf("creating user: %w", err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("looking up user by email: %w", err)
		}
		userID = user.ID
	}

	account := &store.Account{
		UserID:       userID,
		Provider:     store.ProviderSpotify,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		ExternalID:   string(profile.ID),
	}
	if err := h.accounts.Upsert(ctx, account); err != nil {
		return nil, fmt.Errorf("upserting account: %w", err)
	}
	return account, nil
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
