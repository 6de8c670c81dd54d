package models

import "time"

// AuditRecord is the immutable outcome of one publish attempt.
type AuditRecord struct {
	EntryID      string    `bson:"entry_id" json:"id"`
	URL          string    `bson:"url" json:"url"`
	Body         string    `bson:"post_content" json:"post_content"`
	Tags         []string  `bson:"tags" json:"tags"`
	ScheduledAt  time.Time `bson:"scheduled_time" json:"scheduled_time"`
	AttemptedAt  time.Time `bson:"actual_posted_time" json:"actual_posted_time"`
	Success      bool      `bson:"success" json:"success"`
	RemotePostID string    `bson:"tumblr_post_id,omitempty" json:"tumblr_post_id,omitempty"`
	Error        string    `bson:"error,omitempty" json:"error,omitempty"`
}

// EntryStatus is the per-entry outcome of a publishing run.
type EntryStatus string

const (
	StatusPublished EntryStatus = "published"
	StatusFailed    EntryStatus = "failed"
)

// EntryResult describes what happened to one due entry.
type EntryResult struct {
	EntryID      string
	URL          string
	ScheduledAt  time.Time
	Preview      string
	Status       EntryStatus
	RemotePostID string
	Error        string
}

// PublishReport summarises one Publisher run for the Notifier.
type PublishReport struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Platform      string
	Due           int
	Succeeded     int
	Failed        int
	Results       []EntryResult
	Aborted       bool
	AbortReason   string
	NextScheduled *time.Time
}

// Processed is the number of due entries the run accounted for.
func (r *PublishReport) Processed() int {
	return r.Succeeded + r.Failed
}
