package notify

import (
	"context"
	"time"
)

// Target is one notification subscriber group.
type Target struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// UIDs are recipient identifiers handed to the push collaborator
	// (chat ids for the Telegram pusher).
	UIDs []string `json:"uids"`
	// FilterAccounts is the subscription allow-list; empty subscribes to
	// all accounts.
	FilterAccounts []string `json:"filterAccounts,omitempty"`
	Enabled        bool     `json:"enabled"`
}

// Subscribes reports whether the target wants reports about accountID.
func (t Target) Subscribes(accountID string) bool {
	if len(t.FilterAccounts) == 0 {
		return true
	}
	for _, id := range t.FilterAccounts {
		if id == accountID {
			return true
		}
	}
	return false
}

// Pusher is the external push collaborator.
type Pusher interface {
	Push(ctx context.Context, recipients []string, content, contentType string) error
}

const ContentMarkdown = "markdown"

type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int
	// AllowSinglePush gates pushes for single-account completions. Batch
	// completions always push.
	AllowSinglePush bool
	Targets         []Target
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	return c
}

type job struct {
	recipients  []string
	content     string
	contentType string
	enqueued    time.Time
}
