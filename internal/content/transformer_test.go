package content

import (
	"strings"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-feed-mailer/internal/domain"
)

func TestPrepareFallsBackToContent(t *testing.T) {
	tr := NewTransformer(nil)
	p := tr.Prepare(domain.Entry{Title: "t", Content: "<p>from content</p>"})
	if p.Text != "from content" {
		t.Fatalf("unexpected text %q", p.Text)
	}
	if p.HTML != "<p>from content</p>" {
		t.Fatalf("markup without embeds should pass through, got %q", p.HTML)
	}
}

func TestRewriteEmbedsYouTube(t *testing.T) {
	body := `<p>intro</p><iframe width="560" src="https://www.youtube.com/embed/abc123?rel=0"></iframe>`
	out := RewriteEmbeds(body, "https://blog.example/post")

	if strings.Contains(out, "<iframe") {
		t.Fatalf("iframe should be replaced: %s", out)
	}
	if !strings.Contains(out, "https://img.youtube.com/vi/abc123/hqdefault.jpg") {
		t.Fatalf("expected thumbnail, got %s", out)
	}
	if !strings.Contains(out, "Watch the video") || !strings.Contains(out, "<p>intro</p>") {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestRewriteEmbedsOtherPlayers(t *testing.T) {
	body := `<iframe src="https://player.vimeo.com/video/42"></iframe>`
	out := RewriteEmbeds(body, "https://blog.example/post?a=1&b=2")

	if strings.Contains(out, "<iframe") {
		t.Fatalf("iframe should be replaced: %s", out)
	}
	if !strings.Contains(out, "View the video in the original article") {
		t.Fatalf("expected fallback link, got %s", out)
	}
	if !strings.Contains(out, "https://blog.example/post?a=1&amp;b=2") {
		t.Fatalf("expected article link, got %s", out)
	}
}

func TestToEmailHTML(t *testing.T) {
	tr := NewTransformer(nil)
	entries := []domain.PreparedEntry{
		tr.Prepare(domain.Entry{
			Title:        "A & B <i>",
			Author:       "Ann",
			PublishedRaw: "Mon, 01 Jan 2024 00:00:00 GMT",
			Link:         "https://blog.example/post/1",
			Description:  `<p>pic <img src="/img/a.png"> <img src="https://other.example/b.png"><script>alert(1)</script></p>`,
		}),
		tr.Prepare(domain.Entry{Title: "Second", Link: "https://blog.example/post/2", Description: "<p>two</p>"}),
	}
	mediaMap := map[string]string{"https://blog.example/img/a.png": "img_0_deadbeef"}

	out := tr.ToEmailHTML(Header{
		Source:    "Blog",
		FeedURL:   "https://blog.example/feed.xml",
		UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Count:     2,
	}, entries, mediaMap)

	for _, want := range []string{
		"Feed update - Blog",
		"Updated: 2024-01-02 03:04:05",
		"New entries: 2",
		`src="cid:img_0_deadbeef"`,
		`src="https://other.example/b.png"`,
		"A &amp; B &lt;i&gt;",
		"Author: Ann | Published: Mon, 01 Jan 2024 00:00:00 GMT",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("script must be sanitized away:\n%s", out)
	}
	if n := strings.Count(out, `class="separator"`); n != 1 {
		t.Fatalf("expected 1 separator between 2 entries, got %d", n)
	}
}

func TestToEmailHTMLWithoutMedia(t *testing.T) {
	tr := NewTransformer(nil)
	entries := []domain.PreparedEntry{
		tr.Prepare(domain.Entry{Title: "Only", Link: "https://x.example/1", Description: `<img src="https://x.example/a.png">`}),
	}
	out := tr.ToEmailHTML(Header{Source: "X", Count: 1}, entries, nil)
	if strings.Contains(out, "cid:") {
		t.Fatalf("no cid references expected without downloaded media:\n%s", out)
	}
	if !strings.Contains(out, `src="https://x.example/a.png"`) {
		t.Fatalf("remote image should be left in place:\n%s", out)
	}
}
