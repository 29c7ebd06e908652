package content

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/samvad-hq/samvad-feed-mailer/internal/media"
)

var youTubeEmbedID = regexp.MustCompile(`youtube(?:-nocookie)?\.com/embed/([^/?&"']+)`)

// RewriteEmbeds replaces iframe players with links: YouTube embeds become a clickable
// thumbnail, anything else points the reader at the original article.
func RewriteEmbeds(body, articleURL string) string {
	if !strings.Contains(strings.ToLower(body), "<iframe") {
		return body
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}

	doc.Find("iframe").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml(embedReplacement(s.AttrOr("src", ""), articleURL))
	})

	out, err := doc.Find("body").Html()
	if err != nil {
		return body
	}
	return out
}

func embedReplacement(src, articleURL string) string {
	if m := youTubeEmbedID.FindStringSubmatch(src); m != nil {
		href := html.EscapeString(src)
		return fmt.Sprintf(
			`<a href="%s" target="_blank"><img src="%s" alt="YouTube video" style="max-width:100%%;"></a><br><a href="%s" target="_blank">Watch the video</a>`,
			href, media.YouTubeThumbnail(m[1]), href,
		)
	}
	return fmt.Sprintf(`<a href="%s" target="_blank">View the video in the original article</a>`, html.EscapeString(articleURL))
}
