package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"content-autoposter/internal/logger"
	"content-autoposter/models"
	"content-autoposter/utils"
)

const defaultExpiresIn = 3600

// Credential is what a platform adapter needs to authenticate one request.
type Credential struct {
	BearerToken string
	Signer      *Signer
}

// CredentialSource resolves a credential before each publish and refreshes it after a 401.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
	ForceRefresh(ctx context.Context) (Credential, error)
}

// ResolverConfig carries the OAuth 2.0 client settings.
type ResolverConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURI  string
	AuthCode     string
	// Tokens with less than Margin left are refreshed before use.
	Margin     time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
}

// Resolver implements the OAuth 2.0 token lifecycle on top of a TokenStore.
type Resolver struct {
	store      *TokenStore
	conf       *oauth2.Config
	margin     time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	authCode string
}

func NewResolver(store *TokenStore, cfg ResolverConfig) *Resolver {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Resolver{
		store: store,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"basic", "write", "offline_access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		margin:     cfg.Margin,
		httpClient: httpClient,
		now:        now,
		authCode:   cfg.AuthCode,
	}
}

// AuthCodeURL is the browser URL a user visits to grant access.
func (r *Resolver) AuthCodeURL(state string) string {
	return r.conf.AuthCodeURL(state)
}

// GetValidToken returns an access token with at least the configured margin of validity,
// refreshing or exchanging the one-time authorization code as needed.
func (r *Resolver) GetValidToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Load()
	if err != nil {
		return "", err
	}

	now := r.now()
	if rec.Usable(now, r.margin) {
		logger.Debug("Using stored access token", "expires_at", rec.ExpiresAt)
		return rec.AccessToken, nil
	}

	var refreshErr error
	if rec != nil && rec.RefreshToken != "" {
		logger.Info("Access token expiring, refreshing", "expires_at", rec.ExpiresAt)
		next, err := r.refresh(ctx, rec)
		if err == nil {
			return next.AccessToken, nil
		}
		refreshErr = err
		logger.Warn("Token refresh failed", "error", err)
	}

	if r.authCode != "" {
		next, err := r.exchangeLocked(ctx, r.authCode)
		if err != nil {
			return "", err
		}
		return next.AccessToken, nil
	}

	if refreshErr != nil {
		return "", refreshErr
	}
	return "", utils.AuthError("resolve token", utils.ErrNoCredential)
}

// ForceRefresh exchanges the stored refresh token regardless of the stored expiry.
func (r *Resolver) ForceRefresh(ctx context.Context) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Load()
	if err != nil {
		return Credential{}, err
	}
	if rec == nil || rec.RefreshToken == "" {
		return Credential{}, utils.AuthError("force refresh", utils.ErrNoCredential)
	}
	next, err := r.refresh(ctx, rec)
	if err != nil {
		return Credential{}, err
	}
	return Credential{BearerToken: next.AccessToken}, nil
}

// Credential implements CredentialSource.
func (r *Resolver) Credential(ctx context.Context) (Credential, error) {
	tok, err := r.GetValidToken(ctx)
	if err != nil {
		return Credential{}, err
	}
	return Credential{BearerToken: tok}, nil
}

// ExchangeCode trades an authorization code for a token and persists it.
func (r *Resolver) ExchangeCode(ctx context.Context, code string) (*models.TokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exchangeLocked(ctx, code)
}

func (r *Resolver) exchangeLocked(ctx context.Context, code string) (*models.TokenRecord, error) {
	logger.Info("Exchanging authorization code for access token")

	tok, err := r.conf.Exchange(r.clientContext(ctx), code)
	if err != nil {
		return nil, tokenEndpointError("exchange authorization code", err)
	}

	now := r.now()
	rec := r.recordFrom(tok, now)
	rec.CreatedAt = &now
	if err := r.store.Save(rec); err != nil {
		return nil, err
	}
	// Authorization codes are single use.
	r.authCode = ""

	logger.Info("Access token obtained", "expires_at", rec.ExpiresAt)
	return rec, nil
}

func (r *Resolver) refresh(ctx context.Context, prev *models.TokenRecord) (*models.TokenRecord, error) {
	src := r.conf.TokenSource(r.clientContext(ctx), &oauth2.Token{RefreshToken: prev.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, tokenEndpointError("refresh token", err)
	}

	now := r.now()
	rec := r.recordFrom(tok, now)
	if rec.RefreshToken == "" {
		rec.RefreshToken = prev.RefreshToken
	}
	rec.CreatedAt = prev.CreatedAt
	rec.RefreshedAt = &now
	if err := r.store.Save(rec); err != nil {
		return nil, err
	}

	logger.Info("Access token refreshed", "expires_at", rec.ExpiresAt)
	return rec, nil
}

func (r *Resolver) recordFrom(tok *oauth2.Token, now time.Time) *models.TokenRecord {
	expiresIn := int64(defaultExpiresIn)
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		expiresIn = int64(v)
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			expiresIn = n
		}
	default:
		if !tok.Expiry.IsZero() {
			expiresIn = int64(tok.Expiry.Sub(now).Round(time.Second) / time.Second)
		}
	}
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	return &models.TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
		ExpiresAt:    now.Add(time.Duration(expiresIn) * time.Second),
	}
}

func (r *Resolver) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
}

func tokenEndpointError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return utils.AuthError(op, &utils.RefreshError{Status: status, Body: strings.TrimSpace(string(re.Body))})
	}
	return utils.AuthError(op, fmt.Errorf("%w: %v", utils.ErrRefreshFailed, err))
}

// StaticCredential serves a fixed OAuth 1.0a signer; it has no refresh path.
type StaticCredential struct {
	Signer *Signer
}

func (s StaticCredential) Credential(ctx context.Context) (Credential, error) {
	if s.Signer == nil || s.Signer.Token == "" {
		return Credential{}, utils.AuthError("oauth1 credential", utils.ErrNoCredential)
	}
	return Credential{Signer: s.Signer}, nil
}

func (s StaticCredential) ForceRefresh(ctx context.Context) (Credential, error) {
	return Credential{}, utils.AuthError("oauth1 refresh", errors.New("OAuth 1.0a tokens cannot be refreshed"))
}
