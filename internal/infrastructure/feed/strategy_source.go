package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/ports"
	"CrossPoster/internal/scanner"
)

// StrategySource implements SourceAdapter via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	logger   *slog.Logger
}

var _ ports.SourceAdapter = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry.
func NewStrategySource(reg *scanner.Registry, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		logger:   log,
	}
}

// Fetch resolves the platform strategy of src and runs it. Every failure comes back as
// an AdapterError for the source.
func (s *StrategySource) Fetch(ctx context.Context, src domain.Source, since time.Time) ([]domain.Candidate, error) {
	if s.registry == nil {
		return nil, &domain.AdapterError{SourceID: src.ID, Err: fmt.Errorf("scanner registry is not configured")}
	}

	strategy, err := s.registry.Resolve(src.Platform)
	if err != nil {
		return nil, &domain.AdapterError{SourceID: src.ID, Err: err}
	}

	s.debug("fetch source", "source_id", src.ID, "platform", src.Platform, "since", since)
	candidates, err := strategy.Scan(ctx, scanner.Request{
		SourceID:      src.ID,
		URL:           src.URL,
		Since:         since,
		BackfillLimit: src.BackfillLimit,
		Options:       src.Options,
	})
	if err != nil {
		return nil, &domain.AdapterError{SourceID: src.ID, Err: err}
	}

	s.debug("source produced candidates", "source_id", src.ID, "count", len(candidates))
	return candidates, nil
}

// Format delegates to the platform strategy; unknown platforms fall back to the raw text.
func (s *StrategySource) Format(src domain.Source, candidate domain.Candidate) string {
	if s.registry != nil {
		if strategy, err := s.registry.Resolve(src.Platform); err == nil {
			return strategy.Format(src, candidate)
		}
	}
	return compose(candidate.RawText, candidate.URL, "", DefaultMaxChars)
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
