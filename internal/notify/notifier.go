// Package notify composes batch notifications and delivers them by email.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/samvad-hq/samvad-feed-mailer/internal/content"
	"github.com/samvad-hq/samvad-feed-mailer/internal/domain"
	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
	"github.com/samvad-hq/samvad-feed-mailer/internal/media"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/publishers"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/retry"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	separator  = "=================================================="
)

// Mailer delivers an encoded RFC 5322 message.
type Mailer interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// DigestWriter persists the text digest of a notification.
type DigestWriter interface {
	SaveDigest(createdAt time.Time, text string) (string, error)
}

// EventPublisher forwards delivered notifications to additional sinks.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Notifier builds notifications for a batch and dispatches them.
type Notifier struct {
	transformer *content.Transformer
	mailer      Mailer
	email       sources.EmailConfig
	events      EventPublisher
	policy      retry.Policy
	log         logger.Logger
	now         func() time.Time
}

// Option customises a Notifier.
type Option func(*Notifier)

// WithRetryPolicy overrides the SMTP retry schedule.
func WithRetryPolicy(p retry.Policy) Option {
	return func(n *Notifier) { n.policy = p }
}

// WithEventPublisher fans delivered notifications out to extra sinks.
func WithEventPublisher(p EventPublisher) Option {
	return func(n *Notifier) { n.events = p }
}

// WithClock sets the time source used for notification timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// New returns a Notifier that mails through mailer using the email descriptor.
func New(t *content.Transformer, mailer Mailer, email sources.EmailConfig, log logger.Logger, opts ...Option) *Notifier {
	log = logger.OrNop(log)
	if t == nil {
		t = content.NewTransformer(log)
	}
	n := &Notifier{
		transformer: t,
		mailer:      mailer,
		email:       email,
		policy:      retry.SMTPPolicy,
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Compose builds the notification for a batch of new entries. Only downloaded media are kept
// and referenced from the HTML body.
func (n *Notifier) Compose(src sources.Source, entries []domain.PreparedEntry, items []domain.MediaItem) domain.Notification {
	createdAt := n.now()

	var downloaded []domain.MediaItem
	for _, m := range items {
		if m.Downloaded() {
			downloaded = append(downloaded, m)
		}
	}

	header := content.Header{
		Source:    src.Name,
		FeedURL:   src.URL,
		UpdatedAt: createdAt,
		Count:     len(entries),
	}

	return domain.Notification{
		Source:    src.Name,
		FeedURL:   src.URL,
		Subject:   Subject(src.Name, len(entries)),
		Text:      PlainText(src.URL, createdAt, entries),
		HTML:      n.transformer.ToEmailHTML(header, entries, media.MediaMap(downloaded)),
		Media:     downloaded,
		Entries:   entries,
		CreatedAt: createdAt,
	}
}

// Subject is the email subject for a batch of count entries.
func Subject(source string, count int) string {
	return fmt.Sprintf("Feed update - %s - %d new entries", source, count)
}

// PlainText renders the text/plain body of the email.
func PlainText(feedURL string, updated time.Time, entries []domain.PreparedEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feed: %s\n", feedURL)
	fmt.Fprintf(&b, "Updated: %s\n", updated.Format(timeLayout))
	fmt.Fprintf(&b, "New entries: %d\n\n", len(entries))

	lines := make([]string, 0, len(entries)*7)
	for _, e := range entries {
		lines = append(lines,
			"Title: "+e.Title,
			"Author: "+e.Author,
			"Published: "+e.PublishedRaw,
			"Link: "+e.Link,
			"\nContent:",
			e.Text,
			"\n"+separator+"\n",
		)
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// DigestText renders the text file persisted for a notification.
func DigestText(note domain.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Feed update - %s ===\n", note.Source)
	fmt.Fprintf(&b, "Updated: %s\n", note.CreatedAt.Format(timeLayout))
	fmt.Fprintf(&b, "Feed: %s\n", note.FeedURL)
	fmt.Fprintf(&b, "New entries: %d\n\n", len(note.Entries))

	for _, e := range note.Entries {
		fmt.Fprintf(&b, "Published: %s\n", e.PublishedRaw)
		fmt.Fprintf(&b, "Author: %s\n", e.Author)
		fmt.Fprintf(&b, "Title: %s\n", e.Title)
		fmt.Fprintf(&b, "Link: %s\n", e.Link)
		fmt.Fprintf(&b, "Content:\n%s\n", e.Text)
		b.WriteString("\n" + separator + "\n\n")
	}
	return b.String()
}

// Dispatch persists the digest, then mails the notification with retry. A digest write failure
// is logged and does not stop delivery. After a successful send the event is forwarded to the
// configured publishers; their failures are only logged.
func (n *Notifier) Dispatch(ctx context.Context, note domain.Notification, digests DigestWriter) error {
	if n == nil || n.mailer == nil {
		return fmt.Errorf("notifier has no mailer configured")
	}

	if digests != nil {
		path, err := digests.SaveDigest(note.CreatedAt, DigestText(note))
		if err != nil {
			n.log.ErrorObj("digest write failed", "digest_error", map[string]any{
				"source": note.Source,
				"error":  err.Error(),
			})
		} else {
			n.log.InfoObj("digest saved", "digest", map[string]any{
				"source":  note.Source,
				"path":    path,
				"entries": len(note.Entries),
			})
		}
	}

	msg, err := n.BuildMessage(note)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	to := n.email.Recipients()
	_, err = retry.Do(ctx, n.policy, func(attempt int, err error, wait time.Duration) {
		n.log.WarnObj("email send failed, retrying", "smtp_retry", map[string]any{
			"source":  note.Source,
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, n.mailer.Send(ctx, n.email.SenderEmail, to, msg)
	})
	if err != nil {
		n.log.ErrorObj("email send failed", "smtp_error", map[string]any{
			"source":  note.Source,
			"subject": note.Subject,
			"error":   err.Error(),
		})
		return fmt.Errorf("send email: %w", err)
	}
	n.log.InfoObj("email sent", "smtp_delivery", map[string]any{
		"source":  note.Source,
		"subject": note.Subject,
		"media":   len(note.Media),
	})

	n.publish(ctx, note)
	return nil
}

func (n *Notifier) publish(ctx context.Context, note domain.Notification) {
	if n.events == nil {
		return
	}
	delivered, err := n.events.Publish(ctx, publishers.NewEvent(note))
	if err != nil {
		n.log.WarnObj("publisher fan-out failed", "publisher_error", map[string]any{
			"source":    note.Source,
			"delivered": delivered,
			"error":     err.Error(),
		})
		return
	}
	if delivered > 0 {
		n.log.DebugObj("notification event published", "publisher_delivery", map[string]any{
			"source":    note.Source,
			"delivered": delivered,
		})
	}
}

// BuildMessage encodes the notification as a multipart message with inline images. Media whose
// sniffed type is not an image are left out.
func (n *Notifier) BuildMessage(note domain.Notification) ([]byte, error) {
	b := enmime.Builder().
		From("", n.email.SenderEmail).
		Subject(note.Subject).
		Date(note.CreatedAt).
		Header("Message-Id", messageID(n.email.SenderEmail)).
		Text([]byte(note.Text)).
		HTML([]byte(note.HTML))
	for _, rcpt := range n.email.Recipients() {
		b = b.To("", rcpt)
	}

	for _, m := range note.Media {
		if !m.Downloaded() {
			continue
		}
		ct := http.DetectContentType(m.Data)
		if !strings.HasPrefix(ct, "image/") {
			n.log.WarnObj("skipping non-image inline part", "inline_skip", map[string]any{
				"source":       note.Source,
				"content_id":   m.ContentID,
				"url":          m.SourceURL,
				"content_type": ct,
			})
			continue
		}
		b = b.AddInline(m.Data, ct, inlineFileName(m.ContentID, ct), m.ContentID)
	}

	part, err := b.Build()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

func inlineFileName(contentID, contentType string) string {
	ext, ok := imageExtensions[contentType]
	if !ok {
		ext = ".jpg"
	}
	return "image_" + contentID + ext
}

func messageID(sender string) string {
	domainPart := "localhost"
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		domainPart = sender[at+1:]
	}
	return "<" + uuid.NewString() + "@" + domainPart + ">"
}
