package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-feed-mailer/internal/domain"
	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/httpclient"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/retry"
)

const defaultItemTimeout = 10 * time.Second

// Limits bounds what a single notification may carry.
type Limits struct {
	MaxImages int
	MaxBytes  int64
}

// LimitError reports a candidate dropped by policy rather than by a network failure.
type LimitError struct {
	URL    string
	Reason string
	Size   int64
}

func (e *LimitError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("%s: %s (%d bytes)", e.URL, e.Reason, e.Size)
	}
	return fmt.Sprintf("%s: %s", e.URL, e.Reason)
}

// Resolver extracts and downloads inline media.
type Resolver struct {
	client      httpclient.Streamer
	log         logger.Logger
	policy      retry.Policy
	itemTimeout time.Duration
	newID       func() string
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithRetryPolicy overrides the per-item retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Resolver) { r.policy = p }
}

// WithItemTimeout overrides the per-attempt download timeout.
func WithItemTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.itemTimeout = d }
}

// NewResolver wires a Resolver over a streaming HTTP client.
func NewResolver(client httpclient.Streamer, log logger.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client:      client,
		log:         logger.OrNop(log),
		policy:      retry.MediaPolicy,
		itemTimeout: defaultItemTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Download fetches candidates in order and returns the ones that satisfied every limit.
// A failing or rejected item is dropped alone.
func (r *Resolver) Download(ctx context.Context, candidates []domain.MediaItem, limits Limits) []domain.MediaItem {
	if r == nil || r.client == nil || len(candidates) == 0 {
		return nil
	}

	if limits.MaxImages > 0 && len(candidates) > limits.MaxImages {
		r.log.WarnObj("image count over limit, keeping the earliest", "media_limit", map[string]any{
			"found": len(candidates),
			"limit": limits.MaxImages,
		})
		candidates = candidates[:limits.MaxImages]
	}

	out := make([]domain.MediaItem, 0, len(candidates))
	for _, item := range candidates {
		if ctx.Err() != nil {
			break
		}
		got, err := r.fetchOne(ctx, item, limits.MaxBytes)
		if err != nil {
			var limitErr *LimitError
			if errors.As(err, &limitErr) {
				r.log.WarnObj("image skipped by limit", "media_limit", map[string]any{
					"url":    item.SourceURL,
					"reason": limitErr.Reason,
					"size":   limitErr.Size,
					"limit":  limits.MaxBytes,
				})
			} else {
				r.log.WarnObj("image download failed", "media_error", map[string]any{
					"url":   item.SourceURL,
					"error": err.Error(),
				})
			}
			continue
		}
		r.log.DebugObj("image downloaded", "media", map[string]any{
			"url":  got.SourceURL,
			"size": got.Size(),
		})
		out = append(out, got)
	}
	return out
}

func (r *Resolver) fetchOne(ctx context.Context, item domain.MediaItem, maxBytes int64) (domain.MediaItem, error) {
	notify := func(attempt int, err error, wait time.Duration) {
		r.log.InfoObj("retrying image download", "media_retry", map[string]any{
			"url":     item.SourceURL,
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	}

	return retry.Do(ctx, r.policy, notify, func(ctx context.Context) (domain.MediaItem, error) {
		ctx, cancel := context.WithTimeout(ctx, r.itemTimeout)
		defer cancel()

		resp, err := r.client.Stream(ctx, item.SourceURL, map[string]string{
			"User-Agent": httpclient.DefaultUserAgent,
			"Accept":     "image/*",
		})
		if err != nil {
			return item, fmt.Errorf("get image: %w", err)
		}
		body := resp.Body()
		defer body.Close()

		if !retry.IsSuccess(resp.StatusCode()) {
			return item, &retry.StatusError{StatusCode: resp.StatusCode()}
		}

		contentType := mediaType(resp.Header().Get("Content-Type"))
		if !strings.HasPrefix(contentType, "image/") {
			return item, retry.Permanent(&LimitError{URL: item.SourceURL, Reason: "not an image: " + contentType})
		}

		if maxBytes > 0 {
			if declared := resp.ContentLength(); declared > maxBytes {
				return item, retry.Permanent(&LimitError{URL: item.SourceURL, Reason: "declared size over limit", Size: declared})
			}
		}

		reader := io.Reader(body)
		if maxBytes > 0 {
			reader = io.LimitReader(body, maxBytes+1)
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			return item, fmt.Errorf("read image: %w", err)
		}
		if maxBytes > 0 && int64(len(data)) > maxBytes {
			return item, retry.Permanent(&LimitError{URL: item.SourceURL, Reason: "actual size over limit", Size: int64(len(data))})
		}

		item.Data = data
		item.ContentType = contentType
		return item, nil
	})
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}
