package search

import (
	"context"
	"sync"
	"time"
)

type Searcher interface {
	Search(ctx context.Context, queries []string, limit int) (Outcome, error)
}

// throttledSearcher spaces calls to the inner searcher by at least
// minInterval so the public backend does not start refusing us.
type throttledSearcher struct {
	inner       Searcher
	minInterval time.Duration

	mu            sync.Mutex
	nextAllowedAt time.Time
}

// Throttle returns inner unchanged when minInterval is not positive.
func Throttle(inner Searcher, minInterval time.Duration) Searcher {
	if inner == nil || minInterval <= 0 {
		return inner
	}
	return &throttledSearcher{
		inner:       inner,
		minInterval: minInterval,
	}
}

func (s *throttledSearcher) Search(ctx context.Context, queries []string, limit int) (Outcome, error) {
	if err := s.waitTurn(ctx); err != nil {
		return Outcome{Queries: queries}, err
	}
	return s.inner.Search(ctx, queries, limit)
}

func (s *throttledSearcher) waitTurn(ctx context.Context) error {
	for {
		s.mu.Lock()
		now := time.Now()
		if s.nextAllowedAt.IsZero() || !s.nextAllowedAt.After(now) {
			s.nextAllowedAt = now.Add(s.minInterval)
			s.mu.Unlock()
			return nil
		}
		wait := time.Until(s.nextAllowedAt)
		s.mu.Unlock()

		if err := waitWithContext(ctx, wait); err != nil {
			return err
		}
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
