package content

import (
	"html"
	"regexp"
	"strings"
)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// blockBreaks maps closing block tags to the line breaks they leave behind in plain text.
var blockBreaks = map[string]string{
	"p":   "\n\n",
	"div": "\n",
	"h1":  "\n",
	"h2":  "\n",
	"h3":  "\n",
	"h4":  "\n",
	"h5":  "\n",
	"h6":  "\n",
	"li":  "\n",
}

// Sanitize converts markup to plain text. Entities are decoded first, then every tag is dropped;
// <br> and the closing tags in blockBreaks become line breaks. Runs of three or more newlines
// collapse to two and the result is trimmed.
func Sanitize(markup string) string {
	if markup == "" {
		return ""
	}
	s := html.UnescapeString(markup)

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] != '<' || !opensTag(s, i) {
			b.WriteByte(s[i])
			i++
			continue
		}

		if strings.HasPrefix(s[i:], "<!--") {
			end := strings.Index(s[i+4:], "-->")
			if end < 0 {
				break
			}
			i += 4 + end + 3
			continue
		}

		end := strings.IndexByte(s[i+1:], '>')
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(tagBreak(s[i+1 : i+1+end]))
		i += end + 2
	}

	out := excessNewlines.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out)
}

func opensTag(s string, i int) bool {
	if i+1 >= len(s) {
		return false
	}
	c := s[i+1]
	return c == '/' || c == '!' || c == '?' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// tagBreak returns the text a tag (without angle brackets) leaves behind.
func tagBreak(tag string) string {
	closing := strings.HasPrefix(tag, "/")
	name := tagName(strings.TrimPrefix(tag, "/"))

	if name == "br" {
		return "\n"
	}
	if closing {
		return blockBreaks[name]
	}
	return ""
}

func tagName(tag string) string {
	end := 0
	for end < len(tag) {
		c := tag[end]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '/' {
			break
		}
		end++
	}
	return strings.ToLower(tag[:end])
}
