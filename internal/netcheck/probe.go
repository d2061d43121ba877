package netcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"webchat/backend/internal/logger"
)

const (
	DefaultTTL     = 5 * time.Second
	defaultTimeout = 2 * time.Second
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// CheckFunc reports whether the network is usable. It must honor ctx.
type CheckFunc func(ctx context.Context) bool

// Probe caches a reachability answer for a short window so search branches
// do not pay every strategy timeout while the machine is offline.
type Probe struct {
	check CheckFunc
	ttl   time.Duration
	clock Clock
	log   *logger.Logger

	mu        sync.Mutex
	checkedAt time.Time
	online    bool
}

func NewProbe(check CheckFunc, ttl time.Duration, clock Clock, log *logger.Logger) *Probe {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Probe{
		check: check,
		ttl:   ttl,
		clock: clock,
		log:   logger.OrNop(log).WithComponent("netcheck"),
	}
}

// HTTPCheck issues a HEAD request against target. Any response, whatever its
// status, counts as reachable.
func HTTPCheck(httpClient *http.Client, target string, timeout time.Duration) CheckFunc {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return false
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Online returns the cached answer while it is fresher than the TTL and
// re-runs the check otherwise. A nil check always reports online.
func (p *Probe) Online(ctx context.Context) bool {
	if p == nil || p.check == nil {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if !p.checkedAt.IsZero() && now.Sub(p.checkedAt) < p.ttl {
		return p.online
	}

	online := p.check(ctx)
	if ctx.Err() != nil {
		// a canceled caller says nothing about the network
		return online
	}
	if online != p.online || p.checkedAt.IsZero() {
		p.log.WithContext(ctx).Info("reachability changed", "online", online)
	}
	p.online = online
	p.checkedAt = now
	return online
}
