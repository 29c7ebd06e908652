// Package feeds downloads and parses RSS/Atom documents into entries.
package feeds

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/samvad-hq/samvad-feed-mailer/internal/domain"
	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/httpclient"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/retry"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
)

// DefaultTimeout bounds a single feed request.
const DefaultTimeout = 30 * time.Second

const acceptFeeds = "application/rss+xml, application/xml, text/xml, application/atom+xml"

// Client fetches feeds with retry and turns them into domain entries.
type Client struct {
	http   httpclient.Client
	log    logger.Logger
	policy retry.Policy
}

// Option customises a Client.
type Option func(*Client)

// WithRetryPolicy overrides the fetch retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient wires a feed client. A nil http client gets a resty client with DefaultTimeout.
func NewClient(client httpclient.Client, log logger.Logger, opts ...Option) *Client {
	if client == nil {
		client = httpclient.NewRestyClient(DefaultTimeout)
	}
	c := &Client{
		http:   client,
		log:    logger.OrNop(log),
		policy: retry.FetchPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads and parses the feed of src. Transport failures and non-2xx responses are
// retried and returned once the budget is spent. A body that does not parse, or parses to zero
// entries, is logged and yields no entries and no error.
func (c *Client) Fetch(ctx context.Context, src sources.Source) ([]domain.Entry, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("feed client is not initialized")
	}

	body, err := c.download(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", src.Name, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		c.log.WarnObj("feed body could not be parsed", "feed_content_error", map[string]any{
			"source":  src.Name,
			"url":     src.URL,
			"error":   err.Error(),
			"snippet": responseSnippet(body),
		})
		return nil, nil
	}

	if len(feed.Items) == 0 {
		c.log.WarnObj("feed contains no entries", "feed_meta", map[string]any{
			"source": src.Name,
			"url":    src.URL,
		})
		return nil, nil
	}

	c.log.DebugObj("feed parsed", "feed_meta", map[string]any{
		"source":  src.Name,
		"type":    feed.FeedType,
		"version": feed.FeedVersion,
		"title":   feed.Title,
		"entries": len(feed.Items),
	})

	entries := make([]domain.Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, EntryFromItem(item, feed.Link))
	}
	return entries, nil
}

func (c *Client) download(ctx context.Context, src sources.Source) ([]byte, error) {
	headers := map[string]string{
		"User-Agent": httpclient.DefaultUserAgent,
		"Accept":     acceptFeeds,
	}
	notify := func(attempt int, err error, wait time.Duration) {
		c.log.InfoObj("retrying feed fetch", "feed_retry", map[string]any{
			"source":  src.Name,
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	}

	return retry.Do(ctx, c.policy, notify, func(ctx context.Context) ([]byte, error) {
		resp, err := c.http.Get(ctx, src.URL, headers)
		if err != nil {
			err = fmt.Errorf("get %s: %w", src.URL, err)
			if !retry.IsTransient(err) {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		body := resp.Body()
		if !retry.IsSuccess(resp.StatusCode()) {
			return nil, &retry.StatusError{StatusCode: resp.StatusCode(), Snippet: responseSnippet(body)}
		}
		c.log.DebugObj("feed response received", "feed_response", map[string]any{
			"source":       src.Name,
			"content_type": resp.Header().Get("Content-Type"),
			"bytes":        len(body),
		})
		return body, nil
	})
}

// EntryFromItem maps a parsed item onto an Entry. The identifier is the guid/id, else the link,
// else title + "_" + the published (or updated) string.
func EntryFromItem(item *gofeed.Item, feedLink string) domain.Entry {
	e := domain.Entry{
		Title:        strings.TrimSpace(item.Title),
		Author:       authorName(item),
		PublishedRaw: item.Published,
		Link:         html.UnescapeString(strings.TrimSpace(item.Link)),
		Description:  item.Description,
		Content:      item.Content,
		FeedLink:     strings.TrimSpace(feedLink),
	}
	if item.PublishedParsed != nil {
		e.Published = *item.PublishedParsed
	}
	e.ID = entryID(item, e.Link)
	return e
}

func entryID(item *gofeed.Item, link string) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	if link != "" {
		return link
	}
	stamp := item.Published
	if stamp == "" {
		stamp = item.Updated
	}
	return item.Title + "_" + stamp
}

func authorName(item *gofeed.Item) string {
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	return ""
}

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
