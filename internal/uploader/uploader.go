// Package uploader pushes candidate attachments to the destination concurrently while
// keeping their input order.
package uploader

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/ports"
)

const (
	DefaultMaxItems = 4
	DefaultWorkers  = 4
)

// Uploader is a bounded task group over a MediaUploader.
type Uploader struct {
	media    ports.MediaUploader
	maxItems int
	workers  int
	logger   *slog.Logger
}

// New applies defaults for non-positive limits.
func New(media ports.MediaUploader, maxItems, workers int, logger *slog.Logger) *Uploader {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{media: media, maxItems: maxItems, workers: workers, logger: logger}
}

// Upload returns the media ids of the attachments that uploaded, in input order.
// Items beyond the cap are dropped; a failed item is logged and left out.
func (u *Uploader) Upload(ctx context.Context, items []domain.Attachment) []string {
	if len(items) == 0 {
		return []string{}
	}
	if len(items) > u.maxItems {
		u.logger.Debug("dropping extra attachments", "count", len(items), "cap", u.maxItems)
		items = items[:u.maxItems]
	}

	slots := make([]string, len(items))
	var g errgroup.Group
	g.SetLimit(u.workers)
	for i, item := range items {
		g.Go(func() error {
			id, err := u.media.UploadMedia(ctx, item.URL, item.Description)
			if err != nil {
				u.logger.Warn("attachment upload failed", "url", item.URL, "error", err)
				return nil
			}
			slots[i] = id
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]string, 0, len(slots))
	for _, id := range slots {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
