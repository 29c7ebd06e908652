package publishers

import (
	"time"

	"github.com/samvad-hq/samvad-feed-mailer/internal/domain"
)

// EventEntry is the per-entry summary carried by an Event.
type EventEntry struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	Author    string `json:"author,omitempty"`
	Published string `json:"published,omitempty"`
}

// Event represents the payload published downstream after a digest was mailed.
type Event struct {
	Source     string       `json:"source"`
	FeedURL    string       `json:"feed_url"`
	Subject    string       `json:"subject"`
	EntryCount int          `json:"entry_count"`
	MediaCount int          `json:"media_count"`
	Entries    []EventEntry `json:"entries"`
	NotifiedAt time.Time    `json:"notified_at"`
}

// NewEvent summarises a delivered notification.
func NewEvent(n domain.Notification) Event {
	entries := make([]EventEntry, 0, len(n.Entries))
	for _, e := range n.Entries {
		entries = append(entries, EventEntry{
			ID:        e.ID,
			Title:     e.Title,
			Link:      e.Link,
			Author:    e.Author,
			Published: e.PublishedRaw,
		})
	}
	media := 0
	for _, m := range n.Media {
		if m.Downloaded() {
			media++
		}
	}
	return Event{
		Source:     n.Source,
		FeedURL:    n.FeedURL,
		Subject:    n.Subject,
		EntryCount: len(n.Entries),
		MediaCount: media,
		Entries:    entries,
		NotifiedAt: time.Now().UTC(),
	}
}
