package publishers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/httpclient"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/retry"
)

const webhookRetryDelay = 500 * time.Millisecond

// webhookPublisher posts notification events as JSON to an HTTP endpoint.
type webhookPublisher struct {
	id      string
	method  string
	url     string
	headers map[string]string
	client  *resty.Client
	policy  retry.Policy
	log     logger.Logger
}

func newHTTPPublisher(_ context.Context, cfg PublisherConfig, log logger.Logger) (Publisher, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("publisher %q missing http configuration", cfg.ID)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"User-Agent":   httpclient.DefaultUserAgent,
	}
	for k, v := range cfg.HTTP.Headers {
		headers[k] = v
	}

	return &webhookPublisher{
		id:      cfg.ID,
		method:  cfg.HTTP.Method,
		url:     cfg.HTTP.URL,
		headers: headers,
		client:  httpclient.NewRestyHTTPClient(time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second),
		policy: retry.Policy{
			Attempts:     cfg.HTTP.Retries + 1,
			InitialDelay: webhookRetryDelay,
			Multiplier:   2,
		},
		log: logger.OrNop(log),
	}, nil
}

func (w *webhookPublisher) ID() string   { return w.id }
func (w *webhookPublisher) Type() string { return TypeHTTP }

// Publish delivers evt, retrying throttled, 5xx and network failures within the configured budget.
func (w *webhookPublisher) Publish(ctx context.Context, evt Event) error {
	notify := func(attempt int, err error, wait time.Duration) {
		w.log.WarnObj("webhook delivery failed, retrying", "publisher_http_retry", map[string]any{
			"publisher_id": w.id,
			"attempt":      attempt,
			"wait":         wait.String(),
			"error":        err.Error(),
		})
	}
	status, err := retry.Do(ctx, w.policy, notify, func(ctx context.Context) (int, error) {
		return w.deliver(ctx, evt)
	})
	if err != nil {
		return err
	}
	w.log.DebugObj("webhook delivered event", "publisher_http_delivery", map[string]any{
		"publisher_id": w.id,
		"source":       evt.Source,
		"status":       status,
	})
	return nil
}

func (w *webhookPublisher) deliver(ctx context.Context, evt Event) (int, error) {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeaders(w.headers).
		SetBody(evt).
		Execute(w.method, w.url)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, retry.Permanent(err)
		}
		return 0, fmt.Errorf("http request: %w", err)
	}
	code := resp.StatusCode()
	if retry.IsSuccess(code) {
		return code, nil
	}
	statusErr := &retry.StatusError{StatusCode: code, Snippet: bodySnippet(resp.Body())}
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		return code, statusErr
	}
	return code, retry.Permanent(statusErr)
}

func bodySnippet(body []byte) string {
	if len(body) > 512 {
		body = body[:512]
	}
	return strings.TrimSpace(string(body))
}
