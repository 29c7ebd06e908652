// Package content turns feed markup into plain text and email-safe HTML.
package content

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/samvad-hq/samvad-feed-mailer/internal/domain"
	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
	"github.com/samvad-hq/samvad-feed-mailer/internal/media"
)

// Header is the batch summary shown above the entries.
type Header struct {
	Source    string
	FeedURL   string
	UpdatedAt time.Time
	Count     int
}

// Transformer renders prepared entries. It is safe for concurrent use.
type Transformer struct {
	policy *bluemonday.Policy
	tmpl   *template.Template
	log    logger.Logger
}

// NewTransformer builds the sanitizing policy and the email template.
func NewTransformer(log logger.Logger) *Transformer {
	policy := bluemonday.UGCPolicy()
	policy.AllowURLSchemes("cid")

	return &Transformer{
		policy: policy,
		tmpl:   template.Must(template.New("email").Parse(emailTemplate)),
		log:    logger.OrNop(log),
	}
}

// Prepare computes the plain-text and embed-free renderings of an entry.
func (t *Transformer) Prepare(e domain.Entry) domain.PreparedEntry {
	body := e.Body()
	return domain.PreparedEntry{
		Entry: e,
		Text:  Sanitize(body),
		HTML:  RewriteEmbeds(body, e.Link),
	}
}

type emailEntry struct {
	Title     string
	Link      string
	Author    string
	Published string
	Body      template.HTML
	Last      bool
}

type emailView struct {
	Header
	Updated string
	Entries []emailEntry
}

// ToEmailHTML renders the batch. Images whose resolved URL is in mediaMap are pointed at
// cid:<content-id>. It never fails: on a rendering error the entries are returned as escaped text.
func (t *Transformer) ToEmailHTML(h Header, entries []domain.PreparedEntry, mediaMap map[string]string) string {
	view := emailView{
		Header:  h,
		Updated: h.UpdatedAt.Format("2006-01-02 15:04:05"),
		Entries: make([]emailEntry, 0, len(entries)),
	}

	for i, e := range entries {
		body := t.rewriteImages(e.HTML, e.BaseURL(), mediaMap)
		view.Entries = append(view.Entries, emailEntry{
			Title:     e.Title,
			Link:      e.Link,
			Author:    e.Author,
			Published: e.PublishedRaw,
			Body:      template.HTML(t.policy.Sanitize(body)), //nolint:gosec // sanitized by bluemonday
			Last:      i == len(entries)-1,
		})
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, view); err != nil {
		t.log.ErrorObj("email template render failed", "render_error", map[string]any{
			"source": h.Source,
			"error":  err.Error(),
		})
		return fallbackHTML(entries)
	}
	return buf.String()
}

func (t *Transformer) rewriteImages(body, base string, mediaMap map[string]string) string {
	if body == "" || len(mediaMap) == 0 || !strings.Contains(strings.ToLower(body), "<img") {
		return body
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		cid, ok := mediaMap[src]
		if !ok {
			if resolved, rok := media.ResolveURL(src, base); rok {
				cid, ok = mediaMap[resolved]
			}
		}
		if ok {
			s.SetAttr("src", "cid:"+cid)
		}
	})

	out, err := doc.Find("body").Html()
	if err != nil {
		return body
	}
	return out
}

func fallbackHTML(entries []domain.PreparedEntry) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, e := range entries {
		b.WriteString("<h2>")
		template.HTMLEscape(&b, []byte(e.Title))
		b.WriteString("</h2><pre>")
		template.HTMLEscape(&b, []byte(e.Text))
		b.WriteString("</pre>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

const emailTemplate = `<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; }
h1 { color: #2c3e50; border-bottom: 1px solid #eee; padding-bottom: 10px; }
h2 { color: #3498db; margin-top: 30px; }
img { max-width: 100%; height: auto; margin: 10px 0; border-radius: 4px; }
.entry { margin-bottom: 30px; border-bottom: 1px solid #eee; padding-bottom: 20px; }
.meta { font-size: 0.9em; color: #7f8c8d; margin-bottom: 15px; }
.content { margin-top: 15px; }
a { color: #3498db; text-decoration: none; }
.separator { margin: 30px 0; border-top: 1px dashed #ccc; }
.summary { background-color: #f9f9f9; padding: 15px; border-left: 4px solid #3498db; margin: 15px 0; }
.footer { margin-top: 30px; padding-top: 15px; border-top: 1px solid #eee; font-size: 0.9em; color: #7f8c8d; }
</style>
</head>
<body>
<h1>Feed update - {{.Source}}</h1>
<div class="summary">
<p>Updated: {{.Updated}}</p>
<p>Feed: {{.FeedURL}}</p>
<p>New entries: {{.Count}}</p>
</div>
{{range .Entries}}<div class="entry">
<h2><a href="{{.Link}}" target="_blank">{{if .Title}}{{.Title}}{{else}}Untitled{{end}}</a></h2>
<div class="meta">{{if .Author}}Author: {{.Author}}{{if .Published}} | {{end}}{{end}}{{if .Published}}Published: {{.Published}}{{end}}</div>
{{if .Body}}<div class="content">{{.Body}}</div>{{end}}
</div>
{{if not .Last}}<div class="separator"></div>
{{end}}{{end}}<div class="footer">This message was sent automatically by the feed mailer.</div>
</body>
</html>
`
