package research

import (
	"fmt"
	"sort"
	"strings"

	"webchat/backend/internal/grounding"
	"webchat/backend/internal/search"
)

type tokenScore struct {
	token string
	score int
	order int
}

// deriveFollowUps scores non-topic tokens from the findings and turns the best
// ones into "<topic> <token>" queries. A finding that mentions more topic
// tokens weighs more. It is pure and does no I/O.
func deriveFollowUps(topic string, findings []search.Entry, pool *queryPool, limit int) []string {
	if limit <= 0 || len(findings) == 0 {
		return nil
	}
	topicTokens := grounding.TokenSet(topic)

	scores := make(map[string]*tokenScore)
	order := 0
	for _, finding := range findings {
		tokens := grounding.Tokenize(findingText(finding))
		weight := 1
		for _, token := range tokens {
			if _, ok := topicTokens[token]; ok {
				weight++
			}
		}
		for _, token := range tokens {
			if _, ok := topicTokens[token]; ok || isNumeric(token) {
				continue
			}
			entry, ok := scores[token]
			if !ok {
				entry = &tokenScore{token: token, order: order}
				order++
				scores[token] = entry
			}
			entry.score += weight
		}
	}

	ranked := make([]*tokenScore, 0, len(scores))
	for _, entry := range scores {
		ranked = append(ranked, entry)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].order < ranked[j].order
		}
		return ranked[i].score > ranked[j].score
	})

	out := make([]string, 0, limit)
	taken := make(map[string]struct{}, limit)
	for _, entry := range ranked {
		candidate := strings.TrimSpace(topic) + " " + entry.token
		key := strings.ToLower(candidate)
		if _, dup := taken[key]; dup {
			continue
		}
		if pool != nil && pool.contains(candidate) {
			continue
		}
		taken[key] = struct{}{}
		out = append(out, candidate)
		if len(out) == limit {
			break
		}
	}
	return out
}

type reflection struct {
	Text    string
	Queries []string
}

// reflect summarizes everything found so far in the run.
func reflect(topic string, all []search.Entry, passes int, pool *queryPool) reflection {
	domains := topDomains(all, 3)
	queries := deriveFollowUps(topic, all, pool, maxFollowUps)

	var b strings.Builder
	fmt.Fprintf(&b, "After %d pass%s: %d unique source%s.", passes, pluralES(passes), len(all), pluralS(len(all)))
	if len(domains) > 0 {
		b.WriteString(" Most cited domains: ")
		b.WriteString(strings.Join(domains, ", "))
		b.WriteString(".")
	}
	if len(queries) > 0 {
		b.WriteString(" Open angles: ")
		b.WriteString(strings.Join(queries, "; "))
		b.WriteString(".")
	}
	return reflection{Text: b.String(), Queries: queries}
}

func topDomains(entries []search.Entry, limit int) []string {
	counts := make(map[string]int)
	order := make([]string, 0, len(entries))
	for _, entry := range entries {
		host := search.Host(entry.URL)
		if host == "" {
			continue
		}
		if _, ok := counts[host]; !ok {
			order = append(order, host)
		}
		counts[host]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	out := make([]string, 0, len(order))
	for _, host := range order {
		out = append(out, fmt.Sprintf("%s (%d)", host, counts[host]))
	}
	return out
}

func findingText(entry search.Entry) string {
	return strings.Join([]string{entry.Title, entry.Snippet, entry.Summary}, " ")
}

func isNumeric(token string) bool {
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pluralS(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func pluralES(n int) string {
	if n == 1 {
		return ""
	}
	return "es"
}
