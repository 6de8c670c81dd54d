package models

import "time"

// TokenRecord is the persisted OAuth 2.0 credential.
type TokenRecord struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
	ExpiresIn    int64      `json:"expires_in"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	RefreshedAt  *time.Time `json:"refreshed_at,omitempty"`
}

// Usable reports whether the token stays valid for at least margin after now.
func (t *TokenRecord) Usable(now time.Time, margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.After(now.Add(margin))
}
