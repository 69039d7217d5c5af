package feed

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/scanner"
)

const youtubeWatchURL = "https://www.youtube.com/watch?v="

// YouTubeScanner reads the Atom feed of a YouTube channel.
type YouTubeScanner struct {
	parser   *gofeed.Parser
	maxChars int
}

var _ scanner.Scanner = (*YouTubeScanner)(nil)

func NewYouTubeScanner(client *http.Client, maxChars int) *YouTubeScanner {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &YouTubeScanner{parser: newParser(client), maxChars: maxChars}
}

func (y *YouTubeScanner) Name() string {
	return "youtube"
}

// Scan returns the channel videos touched since req.Since, oldest first.
func (y *YouTubeScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Candidate, error) {
	feed, err := fetchFeed(ctx, y.parser, req.URL)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(feed.Items))
	touchedAt := make([]time.Time, 0, len(feed.Items))
	for _, item := range feed.Items {
		videoID := extensionValue(item.Extensions, "yt", "videoId")
		if videoID == "" {
			videoID = strings.TrimPrefix(item.GUID, "yt:video:")
		}
		if videoID == "" {
			continue
		}

		link := item.Link
		if link == "" {
			link = youtubeWatchURL + videoID
		}

		description := ""
		var attachments []domain.Attachment
		if group := firstExtension(item.Extensions, "media", "group"); group != nil {
			description = childValue(group, "description")
			if thumb := firstChild(group, "thumbnail"); thumb != nil {
				attachments = appendUnique(attachments, domain.Attachment{
					URL:         thumb.Attrs["url"],
					Description: strings.TrimSpace(item.Title),
				})
			}
		}

		candidates = append(candidates, domain.Candidate{
			SourceItemID: videoID,
			AuthorID:     channelOf(feed, item, req.SourceID),
			Title:        strings.TrimSpace(item.Title),
			RawText:      joinText(item.Title, description),
			URL:          link,
			PublishedAt:  itemTime(item),
			Attachments:  attachments,
		})
		touchedAt = append(touchedAt, touched(item))
	}
	return window(candidates, touchedAt, req.Since, req.BackfillLimit), nil
}

// Format announces the video by title; the description stays on YouTube.
func (y *YouTubeScanner) Format(src domain.Source, c domain.Candidate) string {
	body := c.Title
	if body == "" {
		body = c.RawText
	}
	return compose(body, c.URL, src.Options["hashtags"], y.maxChars)
}

func channelOf(feed *gofeed.Feed, item *gofeed.Item, sourceID string) string {
	if id := extensionValue(item.Extensions, "yt", "channelId"); id != "" {
		return id
	}
	return authorOf(feed, item, sourceID)
}

func firstExtension(exts ext.Extensions, namespace, name string) *ext.Extension {
	if exts == nil {
		return nil
	}
	values := exts[namespace][name]
	if len(values) == 0 {
		return nil
	}
	return &values[0]
}

func extensionValue(exts ext.Extensions, namespace, name string) string {
	if e := firstExtension(exts, namespace, name); e != nil {
		return strings.TrimSpace(e.Value)
	}
	return ""
}

func firstChild(e *ext.Extension, name string) *ext.Extension {
	children := e.Children[name]
	if len(children) == 0 {
		return nil
	}
	return &children[0]
}

func childValue(e *ext.Extension, name string) string {
	if c := firstChild(e, name); c != nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
