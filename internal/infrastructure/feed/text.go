package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"CrossPoster/internal/domain"
)

const (
	DefaultMaxChars = 500
	ellipsis        = "…"
)

// htmlToText flattens an HTML fragment to plain text and collects its images.
// Plain text input is returned unchanged.
func htmlToText(fragment string) (string, []domain.Attachment) {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.TrimSpace(fragment), nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment), nil
	}

	var images []domain.Attachment
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return
		}
		alt, _ := img.Attr("alt")
		images = append(images, domain.Attachment{URL: strings.TrimSpace(src), Description: strings.TrimSpace(alt)})
	})

	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return collapseLines(doc.Text()), images
}

// collapseLines trims every line and squeezes runs of blank lines into one.
func collapseLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// truncate cuts text to at most limit runes, ending with an ellipsis when shortened.
func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := strings.TrimRightFunc(string(runes[:limit-1]), func(r rune) bool { return r == ' ' || r == '\n' })
	return cut + ellipsis
}

// compose joins body, link and hashtags, shortening only the body so the total stays
// within maxChars.
func compose(body, link, hashtags string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	var tail []string
	if link != "" {
		tail = append(tail, link)
	}
	if hashtags != "" {
		tail = append(tail, hashtags)
	}
	suffix := strings.Join(tail, "\n")
	if suffix == "" {
		return truncate(body, maxChars)
	}
	if body == "" {
		return truncate(suffix, maxChars)
	}

	budget := maxChars - utf8.RuneCountInString(suffix) - 2
	if budget <= 0 {
		return truncate(suffix, maxChars)
	}
	return truncate(body, budget) + "\n\n" + suffix
}

// joinText builds the raw text of a candidate from its title and body.
func joinText(title, body string) string {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	case strings.HasPrefix(body, title):
		return body
	default:
		return title + "\n\n" + body
	}
}

// hashID derives a stable item id from a link when the feed provides no guid.
func hashID(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

func appendUnique(list []domain.Attachment, items ...domain.Attachment) []domain.Attachment {
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		dup := false
		for _, existing := range list {
			if existing.URL == item.URL {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, item)
		}
	}
	return list
}
