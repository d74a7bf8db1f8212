// Package guide acquires and caches the now/next programme guide for the
// channels of a live catalog.
//
// A Scheduler decides which channels to fetch and staggers the fetches. A
// Pipeline runs one fetch cycle per channel against a MetadataService, falling
// back from the short query to the full table once. A Cache holds the result
// for the session under a last-issued-wins sequence rule.
package guide

import (
	"context"
	"time"
)

// ProgramEntry is one decoded programme of a channel guide.
type ProgramEntry struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start,omitzero"`
	Stop        time.Time `json:"stop,omitzero"`
}

// Status is the acquisition status of a channel guide.
type Status int

const (
	StatusUnrequested Status = iota
	StatusPending
	StatusLoaded
	StatusEmpty
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnrequested:
		return "unrequested"
	case StatusPending:
		return "pending"
	case StatusLoaded:
		return "loaded"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settled reports whether a fetch cycle has finished for this status.
func (s Status) Settled() bool {
	return s == StatusLoaded || s == StatusEmpty || s == StatusFailed
}

// GuideState is the cached guide of one channel. Entries[0] is what is on
// now and Entries[1] what is on next, when present.
type GuideState struct {
	ChannelID         string         `json:"channel_id"`
	Entries           []ProgramEntry `json:"entries"`
	Status            Status         `json:"status"`
	FetchedAtSequence uint64         `json:"sequence"`
	UpdatedAt         time.Time      `json:"updated_at,omitzero"`
}

// Now returns the current programme, if known.
func (g GuideState) Now() (ProgramEntry, bool) {
	if len(g.Entries) == 0 {
		return ProgramEntry{}, false
	}
	return g.Entries[0], true
}

// Next returns the following programme, if known.
func (g GuideState) Next() (ProgramEntry, bool) {
	if len(g.Entries) < 2 {
		return ProgramEntry{}, false
	}
	return g.Entries[1], true
}

func (g GuideState) clone() GuideState {
	if g.Entries != nil {
		g.Entries = append([]ProgramEntry(nil), g.Entries...)
	}
	return g
}

// RawEntry is a programme as the metadata service returns it. Title and
// Description may be base64 encoded.
type RawEntry struct {
	Title       string
	Description string
	Start       time.Time
	Stop        time.Time
}

// MetadataService answers guide queries for a channel.
type MetadataService interface {
	// FetchShortGuide returns up to limit upcoming programmes.
	FetchShortGuide(ctx context.Context, channelID string, limit int) ([]RawEntry, error)
	// FetchFullGuide returns the channel's full guide table.
	FetchFullGuide(ctx context.Context, channelID string) ([]RawEntry, error)
}

// UpdateFunc is notified after a fetch result has been stored. It runs on the
// fetch goroutine and must not block for long.
type UpdateFunc func(channelID string, state GuideState)
