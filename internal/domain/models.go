package domain

import (
	"strings"
	"time"
)

// Domain contains core models shared by the pipeline stages.

// Entry is one item parsed from a feed.
type Entry struct {
	ID           string
	Title        string
	Author       string
	Published    time.Time
	PublishedRaw string
	Link         string
	Description  string
	Content      string
	// FeedLink is the feed's own site link, used as a fallback base for relative media URLs.
	FeedLink string
}

// Body returns the description markup, falling back to the structured content.
func (e Entry) Body() string {
	if strings.TrimSpace(e.Description) != "" {
		return e.Description
	}
	return e.Content
}

// BaseURL is the URL relative references inside the entry resolve against.
func (e Entry) BaseURL() string {
	if e.Link != "" {
		return e.Link
	}
	return e.FeedLink
}

// PreparedEntry is an Entry with its plain-text rendering and email-ready markup.
type PreparedEntry struct {
	Entry
	Text string
	HTML string
}

// MediaItem is an inline image candidate; Data is set once it has been downloaded.
type MediaItem struct {
	ContentID   string
	SourceURL   string
	Data        []byte
	ContentType string
}

// Size is the downloaded payload length.
func (m MediaItem) Size() int64 { return int64(len(m.Data)) }

// Downloaded reports whether the payload is present.
func (m MediaItem) Downloaded() bool { return len(m.Data) > 0 }

// Notification is a composed batch ready to be persisted and mailed.
type Notification struct {
	Source    string
	FeedURL   string
	Subject   string
	Text      string
	HTML      string
	Media     []MediaItem
	Entries   []PreparedEntry
	CreatedAt time.Time
}
