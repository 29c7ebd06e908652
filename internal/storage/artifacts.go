package storage

import (
	"bytes"
	"crypto/md5" //nolint:gosec // file naming only
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-feed-mailer/internal/domain"
	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
)

// ArtifactStore owns the digest and snapshot files of one source.
type ArtifactStore struct {
	src sources.Source
	log logger.Logger
}

// Snapshot is the JSON record written for every notified entry.
type Snapshot struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Published   string `json:"published"`
	Description string `json:"description"`
	Content     string `json:"content"`
	FetchTime   string `json:"fetch_time"`
}

// EvictionResult counts the files removed by Evict.
type EvictionResult struct {
	Snapshots int
	Digests   int
}

// NewArtifactStore creates the save and digest directories for src.
func NewArtifactStore(src sources.Source, log logger.Logger) (*ArtifactStore, error) {
	for _, dir := range []string{src.SaveDir, src.DigestDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact directory %s: %w", dir, err)
		}
	}
	return &ArtifactStore{src: src, log: logger.OrNop(log)}, nil
}

// DigestPath returns the digest file path for a notification created at t.
func (a *ArtifactStore) DigestPath(t time.Time) string {
	return filepath.Join(a.src.DigestDir, a.src.DigestPrefix()+t.Format("20060102_150405")+".txt")
}

// SaveDigest writes the text digest and returns its path.
func (a *ArtifactStore) SaveDigest(createdAt time.Time, text string) (string, error) {
	if a == nil {
		return "", errors.New("artifact store is nil")
	}
	path := a.DigestPath(createdAt)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write digest: %w", err)
	}
	return path, nil
}

// SnapshotName is <YYYYMMDD>_<md5(link)[:10]>.json, dated by publication or fetchedAt when unknown.
func SnapshotName(e domain.Entry, fetchedAt time.Time) string {
	date := fetchedAt
	if !e.Published.IsZero() {
		date = e.Published
	}
	sum := md5.Sum([]byte(e.Link)) //nolint:gosec // file naming only
	return date.Format("20060102") + "_" + hex.EncodeToString(sum[:])[:10] + ".json"
}

// SaveSnapshots writes one JSON file per entry. Failures are collected and do not stop the loop.
func (a *ArtifactStore) SaveSnapshots(entries []domain.Entry, fetchedAt time.Time) (int, error) {
	if a == nil {
		return 0, errors.New("artifact store is nil")
	}

	var (
		written int
		errs    []error
	)
	for _, e := range entries {
		snap := Snapshot{
			Title:       e.Title,
			Link:        e.Link,
			Published:   e.PublishedRaw,
			Description: e.Description,
			Content:     e.Content,
			FetchTime:   fetchedAt.Format(time.RFC3339),
		}
		payload, err := encodeSnapshot(snap)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode snapshot %s: %w", e.Link, err))
			continue
		}
		path := filepath.Join(a.src.SaveDir, SnapshotName(e, fetchedAt))
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("write snapshot %s: %w", path, err))
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Evict removes artifacts older than the retention window. The identifier cache file and
// directories are never touched; in the digest dir only this source's digests are considered.
func (a *ArtifactStore) Evict(now time.Time) (EvictionResult, error) {
	if a == nil {
		return EvictionResult{}, errors.New("artifact store is nil")
	}
	cutoff := now.Add(-a.src.Retention())

	var (
		res  EvictionResult
		errs []error
	)

	n, err := a.evictDir(a.src.SaveDir, cutoff, func(name string) bool {
		return !sources.IsCacheFile(name)
	})
	res.Snapshots = n
	if err != nil {
		errs = append(errs, err)
	}

	prefix := a.src.DigestPrefix()
	n, err = a.evictDir(a.src.DigestDir, cutoff, func(name string) bool {
		return strings.HasPrefix(name, prefix)
	})
	res.Digests = n
	if err != nil {
		errs = append(errs, err)
	}

	if res.Snapshots > 0 || res.Digests > 0 {
		a.log.InfoObj("expired artifacts removed", "eviction", map[string]any{
			"source":         a.src.Name,
			"snapshots":      res.Snapshots,
			"digests":        res.Digests,
			"retention_days": a.src.RetentionDays,
		})
	}
	return res, errors.Join(errs...)
}

func (a *ArtifactStore) evictDir(dir string, cutoff time.Time, eligible func(name string) bool) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}

	removed := 0
	for _, de := range entries {
		if de.IsDir() || !eligible(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, de.Name())
		if err := os.Remove(path); err != nil {
			a.log.WarnObj("failed to remove expired artifact", "eviction_error", map[string]any{
				"source": a.src.Name,
				"path":   path,
				"error":  err.Error(),
			})
			continue
		}
		removed++
	}
	return removed, nil
}
