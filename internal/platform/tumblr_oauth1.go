package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"content-autoposter/internal/auth"
	"content-autoposter/models"
	"content-autoposter/utils"
)

// TumblrOAuth1 posts form-encoded bodies to the legacy /post endpoint with a signed header.
type TumblrOAuth1 struct {
	baseURL string
	blog    string
	client  *http.Client
}

func NewTumblrOAuth1(baseURL, blog string, client *http.Client) *TumblrOAuth1 {
	return &TumblrOAuth1{baseURL: strings.TrimRight(baseURL, "/"), blog: blog, client: client}
}

func (t *TumblrOAuth1) Name() string { return "tumblr-oauth1" }

// Form returns the form parameters sent for entry. They also participate in signing.
func (t *TumblrOAuth1) Form(entry *models.QueueEntry) url.Values {
	form := url.Values{}
	switch entry.PostType {
	case models.PostTypeLink:
		form.Set("type", "link")
		form.Set("url", entry.SourceURL)
		if entry.Title != "" {
			form.Set("title", entry.Title)
		}
		form.Set("description", entry.Body)
	default:
		form.Set("type", "text")
		form.Set("body", postText(entry))
		form.Set("format", "html")
	}
	if len(entry.Tags) > 0 {
		form.Set("tags", strings.Join(entry.Tags, ","))
	}
	return form
}

func (t *TumblrOAuth1) Publish(ctx context.Context, cred auth.Credential, entry models.QueueEntry) (string, error) {
	if cred.Signer == nil {
		return "", utils.AuthError("publish", errors.New("oauth1 signer missing"))
	}

	endpoint := fmt.Sprintf("%s/blog/%s/post", t.baseURL, t.blog)
	form := t.Form(&entry)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", cred.Signer.AuthorizationHeader(http.MethodPost, endpoint, form, nil))

	status, body, err := send(t.client, req, "publish")
	if err != nil {
		return "", err
	}
	return decodePostID(status, body)
}

func (t *TumblrOAuth1) CheckConnection(ctx context.Context, cred auth.Credential) (string, error) {
	if cred.Signer == nil {
		return "", utils.AuthError("check connection", errors.New("oauth1 signer missing"))
	}

	endpoint := fmt.Sprintf("%s/blog/%s/info", t.baseURL, t.blog)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create info request: %w", err)
	}
	req.Header.Set("Authorization", cred.Signer.AuthorizationHeader(http.MethodGet, endpoint, nil, nil))

	_, body, err := send(t.client, req, "check connection")
	if err != nil {
		return "", err
	}
	return decodeBlogTitle(body)
}
