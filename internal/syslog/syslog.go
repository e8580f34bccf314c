// Package syslog keeps a process-wide bounded log of account status
// transitions and scheduler activity, tagged by source.
//
// It is a ring, not a sink: entries are kept in memory for status/report
// surfaces and mirrored to the structured logger by callers.
package syslog

import (
	"sync"
	"time"
)

// Source tags who produced an entry.
const (
	SourceScheduler = "scheduler"
	SourceBackup    = "backup"
	SourceSync      = "sync"
	SourceManual    = "manual"
)

type Entry struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"`
	Level   string    `json:"level"`
	Account string    `json:"account,omitempty"`
	Message string    `json:"message"`
}

// Log is a fixed-capacity ring of entries. Safe for concurrent use.
// The zero value is unusable; use New.
type Log struct {
	mu      sync.Mutex
	max     int
	entries []Entry
}

func New(max int) *Log {
	if max <= 0 {
		max = 200
	}
	return &Log{max: max}
}

func (l *Log) Append(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.Level == "" {
		e.Level = "info"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// Entries returns a copy of the current ring, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
