package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"content-autoposter/models"
	"content-autoposter/utils"
)

// Naive ISO-8601 layouts written by earlier tooling; interpreted in local time.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// tokenFile is the on-disk JSON shape.
type tokenFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    string `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
	CreatedAt    string `json:"created_at,omitempty"`
	RefreshedAt  string `json:"refreshed_at,omitempty"`
}

// TokenStore persists a single TokenRecord as JSON.
type TokenStore struct {
	path string
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

func (s *TokenStore) Path() string { return s.path }

// Load returns the stored record, or nil when no token file exists.
func (s *TokenStore) Load() (*models.TokenRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.IOError("read token file", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, utils.IOError("decode token file", err)
	}

	expiresAt, err := parseISO(tf.ExpiresAt)
	if err != nil {
		// Unknown expiry: keep the refresh token but force a refresh.
		expiresAt = time.Time{}
	}

	rec := &models.TokenRecord{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		ExpiresAt:    expiresAt,
		ExpiresIn:    tf.ExpiresIn,
	}
	if t, err := parseISO(tf.CreatedAt); err == nil {
		rec.CreatedAt = &t
	}
	if t, err := parseISO(tf.RefreshedAt); err == nil {
		rec.RefreshedAt = &t
	}
	return rec, nil
}

// Save replaces the stored record atomically.
func (s *TokenStore) Save(rec *models.TokenRecord) error {
	tf := tokenFile{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt.Format(time.RFC3339),
		ExpiresIn:    rec.ExpiresIn,
	}
	if rec.CreatedAt != nil {
		tf.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	if rec.RefreshedAt != nil {
		tf.RefreshedAt = rec.RefreshedAt.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := utils.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return utils.IOError("write token file", err)
	}
	return nil
}

func parseISO(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
