package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mcpbox/control-plane/internal/credential"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
)

var (
	// ErrNotOAuthCredential is returned when an operation that requires an
	// oauth_tokens credential is given something else.
	ErrNotOAuthCredential = errors.New("oauth: credential is not an oauth_tokens credential")
	// ErrInvalidState is returned when a callback's state does not match
	// any pending (and unexpired) authorization flow.
	ErrInvalidState = errors.New("oauth: invalid or expired state")
	// ErrNoRefreshToken is returned by RefreshToken when the credential has
	// no stored refresh token to exchange.
	ErrNoRefreshToken = errors.New("oauth: credential has no refresh token")
)

// TokenError wraps a failed token-endpoint exchange, carrying the
// provider's own error_description when one was returned, so callers can
// decide how much detail to surface: verbatim to a local admin, sanitised
// to anyone else.
type TokenError struct {
	Op            string
	ProviderError string
	Err           error
}

func (e *TokenError) Error() string {
	if e.ProviderError != "" {
		return fmt.Sprintf("oauth %s: %s", e.Op, e.ProviderError)
	}
	return fmt.Sprintf("oauth %s: %v", e.Op, e.Err)
}
func (e *TokenError) Unwrap() error { return e.Err }

// ExchangeResult summarizes what a successful token exchange stored.
type ExchangeResult struct {
	HasRefreshToken bool
	ExpiresAt       *time.Time
}

// Service drives the OAuth 2.1 authorization-code and refresh flows for
// credentials bound to external MCP sources.
type Service struct {
	store       store.Store
	credentials *credential.Service
	httpClient  *http.Client
	redirectURI string
	pending     *pendingFlows
}

func NewService(s store.Store, credentials *credential.Service, redirectURI string, httpClient *http.Client) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Service{
		store:       s,
		credentials: credentials,
		httpClient:  httpClient,
		redirectURI: redirectURI,
		pending:     newPendingFlows(),
	}
}

// StartAuthorization begins an authorization-code flow for an oauth_tokens
// credential that already carries client_id/authorization_url/token_url.
// It returns the URL the admin console should redirect the browser to.
func (s *Service) StartAuthorization(ctx context.Context, cred *models.Credential) (authorizationURL, state string, err error) {
	if cred.Kind != models.CredentialKindOAuthTokens || cred.OAuthGrantType != models.OAuthGrantAuthorizationCode {
		return "", "", ErrNotOAuthCredential
	}
	if cred.OAuthAuthorizationURL == "" || cred.OAuthTokenURL == "" || cred.OAuthClientID == "" {
		return "", "", errors.New("oauth: credential is missing authorization_url, token_url, or client_id")
	}

	pair, err := newPKCEPair()
	if err != nil {
		return "", "", err
	}
	st, err := newState()
	if err != nil {
		return "", "", err
	}

	s.pending.put(st, pendingFlow{
		CredentialID: cred.ID,
		Verifier:     pair.Verifier,
		TokenURL:     cred.OAuthTokenURL,
		RedirectURI:  s.redirectURI,
		CreatedAt:    time.Now(),
	})

	cred.OAuthState = st
	if err := s.store.UpdateCredential(ctx, cred); err != nil {
		return "", "", fmt.Errorf("persist oauth state: %w", err)
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", cred.OAuthClientID)
	q.Set("redirect_uri", s.redirectURI)
	q.Set("state", st)
	q.Set("code_challenge", pair.Challenge)
	q.Set("code_challenge_method", "S256")
	if len(cred.OAuthScopes) > 0 {
		q.Set("scope", strings.Join(cred.OAuthScopes, " "))
	}

	base := cred.OAuthAuthorizationURL
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode(), st, nil
}

// HandleCallback completes an authorization-code flow: it looks up the
// pending flow by state, exchanges the code for tokens, and persists the
// result under the owning credential. A state that doesn't match any
// pending flow is ErrInvalidState, never surfaced with provider detail.
func (s *Service) HandleCallback(ctx context.Context, state, code string) (*ExchangeResult, error) {
	cred, err := s.store.GetCredentialByOAuthState(ctx, state)
	if err != nil {
		return nil, ErrInvalidState
	}

	flow, ok := s.pending.take(state)
	if !ok || flow.CredentialID != cred.ID {
		return nil, ErrInvalidState
	}

	secret, err := s.credentials.Decrypt(ctx, cred.ID)
	if err != nil {
		secret = map[string]string{}
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", flow.RedirectURI)
	form.Set("client_id", cred.OAuthClientID)
	form.Set("code_verifier", flow.Verifier)
	if secret["client_secret"] != "" {
		form.Set("client_secret", secret["client_secret"])
	}

	tok, err := s.exchangeToken(ctx, "authorization code exchange", cred.OAuthTokenURL, form)
	if err != nil {
		return nil, err
	}

	return s.storeToken(ctx, cred, secret, tok)
}

// RefreshToken exchanges a credential's stored refresh token for a new
// access token (and, if the provider rotates them, a new refresh token).
func (s *Service) RefreshToken(ctx context.Context, cred *models.Credential) (*ExchangeResult, error) {
	if cred.Kind != models.CredentialKindOAuthTokens {
		return nil, ErrNotOAuthCredential
	}

	secret, err := s.credentials.Decrypt(ctx, cred.ID)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential %s: %w", cred.ID, err)
	}
	refreshToken := secret["refresh_token"]
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", cred.OAuthClientID)
	if secret["client_secret"] != "" {
		form.Set("client_secret", secret["client_secret"])
	}

	tok, err := s.exchangeToken(ctx, "token refresh", cred.OAuthTokenURL, form)
	if err != nil {
		return nil, err
	}
	return s.storeToken(ctx, cred, secret, tok)
}

// IsTokenExpired reports whether cred's access token is missing or past
// its recorded expiry.
func (s *Service) IsTokenExpired(cred *models.Credential) bool {
	if !cred.HasAccessToken || cred.AccessTokenExpiresAt == nil {
		return true
	}
	return time.Now().After(*cred.AccessTokenExpiresAt)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type providerErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (s *Service) exchangeToken(ctx context.Context, op, tokenURL string, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TokenError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &TokenError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var providerErr providerErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&providerErr)
		return nil, &TokenError{
			Op:            op,
			ProviderError: providerErr.ErrorDescription,
			Err:           fmt.Errorf("token endpoint returned %d (%s)", resp.StatusCode, providerErr.Error),
		}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, &TokenError{Op: op, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tok.AccessToken == "" {
		return nil, &TokenError{Op: op, Err: errors.New("token endpoint returned no access_token")}
	}
	return &tok, nil
}

func (s *Service) storeToken(ctx context.Context, cred *models.Credential, secret map[string]string, tok *tokenResponse) (*ExchangeResult, error) {
	secret["access_token"] = tok.AccessToken
	if tok.RefreshToken != "" {
		secret["refresh_token"] = tok.RefreshToken
	}

	cred.OAuthState = ""
	cred.HasAccessToken = true
	cred.HasRefreshToken = secret["refresh_token"] != ""
	if tok.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
		cred.AccessTokenExpiresAt = &expiresAt
	}

	if err := s.credentials.Update(ctx, cred, secret); err != nil {
		return nil, fmt.Errorf("persist oauth tokens: %w", err)
	}
	if err := s.store.UpdateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("persist credential metadata: %w", err)
	}

	return &ExchangeResult{HasRefreshToken: cred.HasRefreshToken, ExpiresAt: cred.AccessTokenExpiresAt}, nil
}
