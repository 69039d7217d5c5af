// Package feed implements source strategies over RSS/Atom documents: plain blog feeds
// and YouTube channel feeds.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"

	"CrossPoster/internal/domain"
)

const defaultTimeout = 20 * time.Second

func newParser(client *http.Client) *gofeed.Parser {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "CrossPoster/1.0"
	return parser
}

func fetchFeed(ctx context.Context, parser *gofeed.Parser, url string) (*gofeed.Feed, error) {
	if url == "" {
		return nil, fmt.Errorf("source url is empty")
	}
	feed, err := parser.ParseURLWithContext(url, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		var netErr net.Error
		switch {
		case errors.As(err, &httpErr) && httpErr.StatusCode >= 500:
			return nil, &domain.ServerError{StatusCode: httpErr.StatusCode, Body: httpErr.Status}
		case errors.As(err, &netErr):
			return nil, &domain.NetworkError{Op: "fetch " + url, Err: err}
		}
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return feed, nil
}

// itemTime is the publication time of an item, falling back to its update time.
func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}

// touched is the latest of the published and updated times; edits bump it.
func touched(item *gofeed.Item) time.Time {
	t := itemTime(item)
	if item.UpdatedParsed != nil && item.UpdatedParsed.After(t) {
		t = item.UpdatedParsed.UTC()
	}
	return t
}

// window keeps items touched at or after since; on an initial backfill it keeps the
// newest limit items instead. The result is ordered oldest first. Undated items are
// always kept since the published index recognises repeats.
func window(candidates []domain.Candidate, touchedAt []time.Time, since time.Time, limit int) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(candidates))
	// feeds list newest first; walk backwards so ties keep chronological order
	for i := len(candidates) - 1; i >= 0; i-- {
		if !since.IsZero() && !touchedAt[i].IsZero() && touchedAt[i].Before(since) {
			continue
		}
		out = append(out, candidates[i])
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.Before(out[j].PublishedAt)
	})

	if since.IsZero() && limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
