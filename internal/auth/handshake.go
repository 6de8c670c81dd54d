package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"content-autoposter/utils"
)

// OAuth1Handshake runs the three-legged OAuth 1.0a flow that yields a
// long-lived token and secret for a consumer.
type OAuth1Handshake struct {
	ConsumerKey     string
	ConsumerSecret  string
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
	Client          *http.Client
}

// TokenPair is an OAuth 1.0a token and its secret.
type TokenPair struct {
	Token  string
	Secret string
}

// RequestToken obtains a temporary token for out-of-band verification.
func (h *OAuth1Handshake) RequestToken(ctx context.Context) (TokenPair, error) {
	signer := &Signer{ConsumerKey: h.ConsumerKey, ConsumerSecret: h.ConsumerSecret}
	return h.tokenRequest(ctx, "request token", h.RequestTokenURL, signer, map[string]string{"oauth_callback": "oob"})
}

// AuthorizeURLFor is the page where the user approves the temporary token.
func (h *OAuth1Handshake) AuthorizeURLFor(tmp TokenPair) string {
	sep := "?"
	if strings.Contains(h.AuthorizeURL, "?") {
		sep = "&"
	}
	return h.AuthorizeURL + sep + "oauth_token=" + url.QueryEscape(tmp.Token)
}

// AccessToken exchanges the approved temporary token and verifier for the permanent pair.
func (h *OAuth1Handshake) AccessToken(ctx context.Context, tmp TokenPair, verifier string) (TokenPair, error) {
	if strings.TrimSpace(verifier) == "" {
		return TokenPair{}, utils.AuthError("access token", errors.New("empty verifier"))
	}
	signer := &Signer{
		ConsumerKey:    h.ConsumerKey,
		ConsumerSecret: h.ConsumerSecret,
		Token:          tmp.Token,
		TokenSecret:    tmp.Secret,
	}
	return h.tokenRequest(ctx, "access token", h.AccessTokenURL, signer, map[string]string{"oauth_verifier": strings.TrimSpace(verifier)})
}

func (h *OAuth1Handshake) tokenRequest(ctx context.Context, op, endpoint string, signer *Signer, extra map[string]string) (TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return TokenPair{}, utils.ConfigError(op, err)
	}
	req.Header.Set("Authorization", signer.AuthorizationHeader(http.MethodPost, endpoint, nil, extra))

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return TokenPair{}, utils.TransportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return TokenPair{}, utils.TransportError(op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, utils.AuthError(op, &utils.RemoteError{Status: resp.StatusCode, Body: utils.Truncate(string(body), 200)})
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return TokenPair{}, utils.AuthError(op, fmt.Errorf("decode response: %w", err))
	}
	pair := TokenPair{Token: values.Get("oauth_token"), Secret: values.Get("oauth_token_secret")}
	if pair.Token == "" || pair.Secret == "" {
		return TokenPair{}, utils.AuthError(op, errors.New("response missing oauth_token or oauth_token_secret"))
	}
	return pair, nil
}
