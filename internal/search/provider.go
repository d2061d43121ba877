package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"webchat/backend/internal/logger"
	"webchat/backend/internal/metrics"
)

const (
	defaultAttemptTimeout = 8 * time.Second
	defaultMaxBodyBytes   = int64(2 << 20)
	maxEnrichPages        = 4
	defaultEnrichChars    = 900
)

type Config struct {
	Strategies     []Strategy
	AttemptTimeout time.Duration
	MaxBodyBytes   int64
	EnrichPages    int
	EnrichMaxChars int
	Now            func() time.Time
}

type Provider struct {
	cfg        Config
	httpClient *http.Client
	enricher   Enricher
	log        *logger.Logger
	metrics    *metrics.Metrics
}

func NewProvider(cfg Config, httpClient *http.Client, enricher Enricher, log *logger.Logger, m *metrics.Metrics) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.EnrichPages <= 0 || cfg.EnrichPages > maxEnrichPages {
		cfg.EnrichPages = maxEnrichPages
	}
	if cfg.EnrichMaxChars <= 0 {
		cfg.EnrichMaxChars = defaultEnrichChars
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{
		cfg:        cfg,
		httpClient: httpClient,
		enricher:   enricher,
		log:        logger.OrNop(log).WithComponent("search"),
		metrics:    m,
	}
}

// Search runs queries in order and returns up to limit distinct entries.
// Strategy failures are logged and skipped; only cancellation of ctx is returned as an error.
func (p *Provider) Search(ctx context.Context, queries []string, limit int) (Outcome, error) {
	limit = ClampLimit(limit)
	outcome := Outcome{RetrievedAt: p.cfg.Now().UTC()}
	seen := make(map[string]struct{}, limit)
	entries := make([]Entry, 0, limit)

	for _, query := range cleanQueries(queries) {
		if len(entries) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		outcome.Queries = append(outcome.Queries, query)

		for _, entry := range p.runStrategies(ctx, query) {
			key := DedupeKey(entry.URL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			entry.QueryUsed = query
			entry.Snippet = TruncateRunes(entry.Snippet, MaxSnippetRunes)
			if entry.Title == "" {
				entry.Title = entry.URL
			}
			entries = append(entries, entry)
			if len(entries) >= limit {
				break
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	if len(entries) > 0 && p.enricher != nil {
		pages := p.cfg.EnrichPages
		if pages > limit {
			pages = limit
		}
		entries = p.enricher.Enrich(ctx, entries, pages, p.cfg.EnrichMaxChars)
	}

	outcome.Entries = entries
	outcome.Text = Render(outcome)
	p.log.WithContext(ctx).Debug("search finished", "queries", len(outcome.Queries), "entries", len(entries))
	return outcome, nil
}

func (p *Provider) runStrategies(ctx context.Context, query string) []Entry {
	for _, strategy := range p.cfg.Strategies {
		if ctx.Err() != nil {
			return nil
		}
		entries, err := p.attempt(ctx, strategy, query)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			p.metrics.SearchAttempt(strategy.Name, "error")
			p.log.WithContext(ctx).Warn("search strategy failed", "strategy", strategy.Name, "query", query, "error", err)
		case len(entries) == 0:
			p.metrics.SearchAttempt(strategy.Name, "empty")
			p.log.WithContext(ctx).Debug("search strategy returned nothing", "strategy", strategy.Name, "query", query)
		default:
			p.metrics.SearchAttempt(strategy.Name, "ok")
			for i := range entries {
				entries[i].Strategy = strategy.Name
			}
			return entries
		}
	}
	return nil
}

func (p *Provider) attempt(ctx context.Context, strategy Strategy, query string) ([]Entry, error) {
	if strategy.Build == nil || strategy.Parser == nil {
		return nil, errors.New("strategy is incomplete")
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()

	req, err := strategy.Build(attemptCtx, query)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8*1024))
		return nil, StatusError{Strategy: strategy.Name, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return strategy.Parser.Parse(body, req.URL)
}

func cleanQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, query := range queries {
		normalized := strings.Join(strings.Fields(query), " ")
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
