package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"CrossPoster/internal/domain"
)

// Request carries all parameters required to read one source.
type Request struct {
	SourceID string
	URL      string
	// Since is the fetch cursor; zero means an initial backfill.
	Since time.Time
	// BackfillLimit keeps only the newest N items on an initial backfill (0 = all).
	BackfillLimit int
	Options       map[string]string
}

// Scanner captures one platform strategy (rss, youtube, ...).
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.Candidate, error)
	// Format renders a candidate as destination text. Pure, no I/O.
	Format(src domain.Source, candidate domain.Candidate) string
}

// Registry keeps a mapping from platform names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds a registry holding the given scanners.
func NewRegistry(scanners ...Scanner) *Registry {
	r := &Registry{scanners: map[string]Scanner{}}
	for _, s := range scanners {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}

// Names lists registered platforms in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
