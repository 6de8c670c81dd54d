package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"content-autoposter/internal/auth"
	"content-autoposter/models"
	"content-autoposter/utils"
)

// TumblrOAuth2 posts NPF JSON to the /posts endpoint with a bearer token.
type TumblrOAuth2 struct {
	baseURL string
	blog    string
	client  *http.Client
}

func NewTumblrOAuth2(baseURL, blog string, client *http.Client) *TumblrOAuth2 {
	return &TumblrOAuth2{baseURL: strings.TrimRight(baseURL, "/"), blog: blog, client: client}
}

func (t *TumblrOAuth2) Name() string { return "tumblr-oauth2" }

// ContentBlock is a single Neue Post Format block.
type ContentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// NPFPost is the JSON body of a create-post request.
type NPFPost struct {
	Content []ContentBlock `json:"content"`
	Tags    []string       `json:"tags"`
}

// Payload builds the NPF body for entry.
func (t *TumblrOAuth2) Payload(entry *models.QueueEntry) NPFPost {
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}

	if entry.PostType == models.PostTypeLink {
		return NPFPost{
			Content: []ContentBlock{
				{Type: "text", Text: entry.Body},
				{Type: "link", URL: entry.SourceURL, Title: entry.Title},
			},
			Tags: tags,
		}
	}
	return NPFPost{
		Content: []ContentBlock{{Type: "text", Text: postText(entry)}},
		Tags:    tags,
	}
}

func (t *TumblrOAuth2) Publish(ctx context.Context, cred auth.Credential, entry models.QueueEntry) (string, error) {
	if cred.BearerToken == "" {
		return "", utils.AuthError("publish", errors.New("bearer token missing"))
	}

	payload, err := json.Marshal(t.Payload(&entry))
	if err != nil {
		return "", fmt.Errorf("failed to encode post: %w", err)
	}

	endpoint := fmt.Sprintf("%s/blog/%s/posts", t.baseURL, t.blog)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.BearerToken)

	status, body, err := send(t.client, req, "publish")
	if err != nil {
		return "", err
	}
	return decodePostID(status, body)
}

func (t *TumblrOAuth2) CheckConnection(ctx context.Context, cred auth.Credential) (string, error) {
	if cred.BearerToken == "" {
		return "", utils.AuthError("check connection", errors.New("bearer token missing"))
	}

	endpoint := fmt.Sprintf("%s/blog/%s/info", t.baseURL, t.blog)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.BearerToken)

	_, body, err := send(t.client, req, "check connection")
	if err != nil {
		return "", err
	}
	return decodeBlogTitle(body)
}
