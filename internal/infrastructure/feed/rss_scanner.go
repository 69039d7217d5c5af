package feed

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/scanner"
)

// RSSScanner reads RSS and Atom feeds.
type RSSScanner struct {
	parser   *gofeed.Parser
	maxChars int
}

var _ scanner.Scanner = (*RSSScanner)(nil)

// NewRSSScanner wires an HTTP client; maxChars bounds formatted posts (500 when zero).
func NewRSSScanner(client *http.Client, maxChars int) *RSSScanner {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &RSSScanner{parser: newParser(client), maxChars: maxChars}
}

// Name identifies the strategy inside the registry.
func (r *RSSScanner) Name() string {
	return "rss"
}

// Scan returns the feed items touched since req.Since, oldest first.
func (r *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Candidate, error) {
	feed, err := fetchFeed(ctx, r.parser, req.URL)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(feed.Items))
	touchedAt := make([]time.Time, 0, len(feed.Items))
	for _, item := range feed.Items {
		c, ok := r.candidate(feed, item, req.SourceID)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
		touchedAt = append(touchedAt, touched(item))
	}
	return window(candidates, touchedAt, req.Since, req.BackfillLimit), nil
}

func (r *RSSScanner) candidate(feed *gofeed.Feed, item *gofeed.Item, sourceID string) (domain.Candidate, bool) {
	id := strings.TrimSpace(item.GUID)
	if id == "" && item.Link != "" {
		id = hashID(item.Link)
	}
	if id == "" {
		return domain.Candidate{}, false
	}

	body := item.Content
	if body == "" {
		body = item.Description
	}
	text, images := htmlToText(body)

	var attachments []domain.Attachment
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") {
			attachments = appendUnique(attachments, domain.Attachment{URL: enc.URL})
		}
	}
	attachments = appendUnique(attachments, images...)
	if item.Image != nil {
		attachments = appendUnique(attachments, domain.Attachment{URL: item.Image.URL, Description: item.Image.Title})
	}

	return domain.Candidate{
		SourceItemID: id,
		AuthorID:     authorOf(feed, item, sourceID),
		Title:        strings.TrimSpace(item.Title),
		RawText:      joinText(item.Title, text),
		URL:          item.Link,
		PublishedAt:  itemTime(item),
		Attachments:  attachments,
	}, true
}

// Format renders the candidate text with its link and optional hashtags.
func (r *RSSScanner) Format(src domain.Source, c domain.Candidate) string {
	return compose(c.RawText, c.URL, src.Options["hashtags"], r.maxChars)
}

// authorOf picks the item author, then the feed author, then the feed title.
func authorOf(feed *gofeed.Feed, item *gofeed.Item, sourceID string) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	if feed.Author != nil && feed.Author.Name != "" {
		return feed.Author.Name
	}
	if feed.Title != "" {
		return feed.Title
	}
	return sourceID
}
