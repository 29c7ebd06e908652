// Package media finds inline images in entry markup and downloads them within per-batch limits.
package media

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/samvad-hq/samvad-feed-mailer/internal/domain"
)

var (
	imgSrcRegex = regexp.MustCompile(`(?i)<img[^>]+src\s*=\s*['"]([^'"]+)['"][^>]*>`)

	youTubePatterns = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/watch\?v=([^&"'<>\s]+)`),
		regexp.MustCompile(`youtube(?:-nocookie)?\.com/embed/([^/?&"'<>\s]+)`),
		regexp.MustCompile(`youtu\.be/([^/?&"'<>\s]+)`),
	}
	vimeoPattern = regexp.MustCompile(`vimeo\.com/(\d+)`)
)

// ResolveURL decodes entities in raw and resolves it against base. Only http(s) results are accepted.
func ResolveURL(raw, base string) (string, bool) {
	raw = strings.TrimSpace(html.UnescapeString(raw))
	if raw == "" {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !ref.IsAbs() {
		if strings.TrimSpace(base) == "" {
			return "", false
		}
		b, err := url.Parse(strings.TrimSpace(html.UnescapeString(base)))
		if err != nil || !b.IsAbs() {
			return "", false
		}
		ref = b.ResolveReference(ref)
	}
	switch strings.ToLower(ref.Scheme) {
	case "http", "https":
		return ref.String(), true
	default:
		return "", false
	}
}

// YouTubeThumbnail is the high-quality still for a video id.
func YouTubeThumbnail(id string) string {
	return "https://img.youtube.com/vi/" + id + "/hqdefault.jpg"
}

// Extract lists image and video-thumbnail candidates found in markup, in document order.
func (r *Resolver) Extract(markup, baseURL string) []domain.MediaItem {
	if strings.TrimSpace(markup) == "" {
		return nil
	}

	var out []domain.MediaItem
	for i, m := range imgSrcRegex.FindAllStringSubmatch(markup, -1) {
		resolved, ok := ResolveURL(m[1], baseURL)
		if !ok {
			r.log.DebugObj("skipping unresolvable image url", "media", map[string]any{
				"url":  m[1],
				"base": baseURL,
			})
			continue
		}
		out = append(out, domain.MediaItem{
			ContentID: fmt.Sprintf("img_%d_%s", i, r.shortID()),
			SourceURL: resolved,
		})
	}

	for _, p := range youTubePatterns {
		for _, m := range p.FindAllStringSubmatch(markup, -1) {
			out = append(out, domain.MediaItem{
				ContentID: "yt_" + m[1],
				SourceURL: YouTubeThumbnail(m[1]),
			})
		}
	}

	for _, m := range vimeoPattern.FindAllStringSubmatch(markup, -1) {
		r.log.DebugObj("vimeo video found; thumbnails need the vimeo api", "media", map[string]any{
			"vimeo_id": m[1],
		})
	}

	return out
}

// ExtractAll collects candidates across a batch, keeping the first occurrence of every URL.
func (r *Resolver) ExtractAll(entries []domain.Entry) []domain.MediaItem {
	seen := make(map[string]struct{})
	var out []domain.MediaItem
	for _, e := range entries {
		for _, item := range r.Extract(e.Body(), e.BaseURL()) {
			if _, dup := seen[item.SourceURL]; dup {
				continue
			}
			seen[item.SourceURL] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// MediaMap maps the source URL of every downloaded item to its content id.
func MediaMap(items []domain.MediaItem) map[string]string {
	out := make(map[string]string, len(items))
	for _, it := range items {
		if !it.Downloaded() {
			continue
		}
		out[it.SourceURL] = it.ContentID
	}
	return out
}

func (r *Resolver) shortID() string {
	if r.newID != nil {
		return r.newID()
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
