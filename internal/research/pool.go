package research

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"webchat/backend/internal/grounding"
)

var (
	conjunctionSplit = regexp.MustCompile(`(?i)\s+(?:and|or|vs\.?|versus)\s+|\s*[,;&]\s*`)
	yearPattern      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	freshnessWords   = map[string]struct{}{
		"latest": {}, "recent": {}, "current": {}, "today": {}, "new": {}, "now": {}, "this": {},
	}
)

// queryPool is the bounded, case-insensitively deduplicated list of queries a
// run may search. It belongs to a single run.
type queryPool struct {
	queries []string
	seen    map[string]struct{}
	next    int
}

func newQueryPool() *queryPool {
	return &queryPool{seen: make(map[string]struct{}, maxPoolQueries)}
}

// add appends query unless it is empty, already pooled, or the pool is full.
func (p *queryPool) add(query string) bool {
	normalized := strings.Join(strings.Fields(query), " ")
	if normalized == "" || len(p.queries) >= maxPoolQueries {
		return false
	}
	key := strings.ToLower(normalized)
	if _, ok := p.seen[key]; ok {
		return false
	}
	p.seen[key] = struct{}{}
	p.queries = append(p.queries, normalized)
	return true
}

func (p *queryPool) contains(query string) bool {
	_, ok := p.seen[strings.ToLower(strings.Join(strings.Fields(query), " "))]
	return ok
}

// take returns the next unsearched query, or the last pooled query once
// every query has been used.
func (p *queryPool) take() string {
	if len(p.queries) == 0 {
		return ""
	}
	if p.next < len(p.queries) {
		query := p.queries[p.next]
		p.next++
		return query
	}
	return p.queries[len(p.queries)-1]
}

func (p *queryPool) snapshot() []string {
	return append([]string(nil), p.queries...)
}

// seedPool fills a pool from the topic: the topic itself, caller seeds, the
// parts of a compound topic, then freshness-qualified variants.
func seedPool(topic string, seeds []string, now time.Time) *queryPool {
	pool := newQueryPool()
	pool.add(topic)
	for _, seed := range seeds {
		pool.add(seed)
	}

	parts := splitTopic(topic)
	if len(parts) > 1 {
		for _, part := range parts {
			pool.add(part)
		}
	}

	if !hasFreshnessQualifier(topic) {
		pool.add("latest " + topic)
		pool.add(topic + " " + strconv.Itoa(now.Year()))
	}
	return pool
}

func splitTopic(topic string) []string {
	raw := conjunctionSplit.Split(topic, -1)
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if len(grounding.Tokenize(part)) == 0 {
			continue
		}
		out = append(out, part)
	}
	return out
}

func hasFreshnessQualifier(topic string) bool {
	if yearPattern.MatchString(topic) {
		return true
	}
	for _, word := range grounding.Words(topic) {
		if _, ok := freshnessWords[word]; ok {
			return true
		}
	}
	return false
}
