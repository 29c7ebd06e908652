package pipeline

import (
	"context"
	"time"

	"github.com/samvad-hq/samvad-feed-mailer/internal/domain"
	"github.com/samvad-hq/samvad-feed-mailer/internal/media"
	"github.com/samvad-hq/samvad-feed-mailer/internal/notify"
	"github.com/samvad-hq/samvad-feed-mailer/internal/storage"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
)

// FeedFetcher downloads and parses a source's feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, src sources.Source) ([]domain.Entry, error)
}

// IdentifierSet is the per-source record of processed entry identifiers.
type IdentifierSet interface {
	Contains(id string) bool
	MarkSeen(id string)
	Len() int
	Persist() error
}

// ArtifactStore persists digests and snapshots and evicts expired ones.
type ArtifactStore interface {
	notify.DigestWriter
	SaveSnapshots(entries []domain.Entry, fetchedAt time.Time) (int, error)
	Evict(now time.Time) (storage.EvictionResult, error)
}

// EntryPreparer renders an entry's text and email markup.
type EntryPreparer interface {
	Prepare(e domain.Entry) domain.PreparedEntry
}

// MediaResolver finds and downloads inline images for a batch.
type MediaResolver interface {
	ExtractAll(entries []domain.Entry) []domain.MediaItem
	Download(ctx context.Context, candidates []domain.MediaItem, limits media.Limits) []domain.MediaItem
}

// Notifier composes and delivers the notification for a batch.
type Notifier interface {
	Compose(src sources.Source, entries []domain.PreparedEntry, items []domain.MediaItem) domain.Notification
	Dispatch(ctx context.Context, note domain.Notification, digests notify.DigestWriter) error
}
