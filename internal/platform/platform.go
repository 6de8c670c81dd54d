package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"content-autoposter/internal/auth"
	"content-autoposter/internal/config"
	"content-autoposter/models"
	"content-autoposter/utils"
)

// maxErrorBody bounds the response text kept in a RemoteError.
const maxErrorBody = 200

// Platform publishes queue entries to a remote blog.
type Platform interface {
	Name() string
	// Publish creates the post and returns the remote post id.
	Publish(ctx context.Context, cred auth.Credential, entry models.QueueEntry) (string, error)
	// CheckConnection verifies the credential and returns the blog title.
	CheckConnection(ctx context.Context, cred auth.Credential) (string, error)
}

// New returns the adapter selected by POST_PLATFORM.
func New(cfg *config.Config, client *http.Client) (Platform, error) {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	switch cfg.Platform {
	case config.PlatformTumblrOAuth1:
		return NewTumblrOAuth1(cfg.TumblrAPIBase, cfg.BlogName, client), nil
	case config.PlatformTumblrOAuth2:
		return NewTumblrOAuth2(cfg.TumblrAPIBase, cfg.BlogName, client), nil
	default:
		return nil, utils.ConfigError("select platform", fmt.Errorf("unknown POST_PLATFORM %q", cfg.Platform))
	}
}

// postText is the body both adapters send: the generated text followed by its source.
func postText(entry *models.QueueEntry) string {
	if entry.SourceURL == "" {
		return entry.Body
	}
	return entry.Body + "\n\nSource: " + entry.SourceURL
}

// envelope is the wrapper every Tumblr v2 response uses.
type envelope struct {
	Meta struct {
		Status int    `json:"status"`
		Msg    string `json:"msg"`
	} `json:"meta"`
	Response json.RawMessage `json:"response"`
}

type postResponse struct {
	ID       json.Number `json:"id"`
	IDString string      `json:"id_string"`
}

type blogInfoResponse struct {
	Blog struct {
		Title string `json:"title"`
		Name  string `json:"name"`
	} `json:"blog"`
}

// send executes req and returns the body. Non-2xx responses become a RemoteError.
func send(client *http.Client, req *http.Request, op string) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, utils.TransportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, utils.TransportError(op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, body, &utils.RemoteError{
			Status: resp.StatusCode,
			Body:   utils.Truncate(strings.TrimSpace(string(body)), maxErrorBody),
		}
	}
	return resp.StatusCode, body, nil
}

// decodePostID reads response.id, which Tumblr sends as a number or a string.
func decodePostID(status int, body []byte) (string, error) {
	if status != http.StatusCreated {
		return "", &utils.RemoteError{Status: status, Body: utils.Truncate(strings.TrimSpace(string(body)), maxErrorBody)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decode post response: %w", err)
	}

	var pr postResponse
	if len(env.Response) > 0 {
		if err := json.Unmarshal(env.Response, &pr); err != nil {
			var alt struct {
				ID string `json:"id"`
			}
			if err2 := json.Unmarshal(env.Response, &alt); err2 != nil {
				return "", fmt.Errorf("decode post id: %w", err)
			}
			pr.IDString = alt.ID
		}
	}

	id := pr.IDString
	if id == "" {
		id = pr.ID.String()
	}
	if id == "" {
		return "", fmt.Errorf("post response carried no id")
	}
	return id, nil
}

func decodeBlogTitle(body []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decode blog info: %w", err)
	}
	var info blogInfoResponse
	if err := json.Unmarshal(env.Response, &info); err != nil {
		return "", fmt.Errorf("decode blog info: %w", err)
	}
	if info.Blog.Title == "" {
		return "Unknown", nil
	}
	return info.Blog.Title, nil
}
