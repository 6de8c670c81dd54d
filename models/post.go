package models

import (
	"errors"
	"fmt"
	"time"
)

// PostType is the kind of post sent to the platform.
type PostType string

const (
	PostTypeText PostType = "text"
	PostTypeLink PostType = "link"
)

// ParsePostType validates a post_type column value. Empty defaults to text.
func ParsePostType(s string) (PostType, error) {
	switch PostType(s) {
	case "", PostTypeText:
		return PostTypeText, nil
	case PostTypeLink:
		return PostTypeLink, nil
	default:
		return "", fmt.Errorf("unknown post type %q", s)
	}
}

var ErrAlreadyPublished = errors.New("entry already published")

// QueueEntry is one staged post awaiting publication.
type QueueEntry struct {
	ID           string
	SourceURL    string
	Title        string
	Body         string
	Tags         []string
	PostType     PostType
	CreatedAt    time.Time
	ScheduledAt  time.Time
	Published    bool
	PublishedAt  time.Time
	RemotePostID string
}

// IsDue reports whether the entry is pending and its scheduled time has passed.
func (e *QueueEntry) IsDue(now time.Time) bool {
	return !e.Published && !e.ScheduledAt.After(now)
}

// MarkPublished moves the entry to its terminal published state.
func (e *QueueEntry) MarkPublished(remoteID string, at time.Time) error {
	if e.Published {
		return ErrAlreadyPublished
	}
	if remoteID == "" {
		return errors.New("empty remote post id")
	}
	e.Published = true
	e.PublishedAt = at
	e.RemotePostID = remoteID
	return nil
}

// Validate checks that published_at and remote_post_id are set iff published.
func (e *QueueEntry) Validate() error {
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.Published {
		if e.RemotePostID == "" || e.PublishedAt.IsZero() {
			return fmt.Errorf("entry %s is published without remote id or publish time", e.ID)
		}
		return nil
	}
	if e.RemotePostID != "" || !e.PublishedAt.IsZero() {
		return fmt.Errorf("entry %s is pending but carries publish data", e.ID)
	}
	return nil
}

// EntryID builds the id for the seq-th (1-based) entry of a batch created at t.
func EntryID(t time.Time, seq int) string {
	return fmt.Sprintf("post_%s_%03d", t.Format("20060102_150405"), seq)
}
