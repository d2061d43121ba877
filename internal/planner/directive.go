package planner

import (
	"regexp"
	"strings"

	"webchat/backend/internal/grounding"
)

var (
	fetchDirectivePattern  = regexp.MustCompile(`(?i)\b(?:fetch|get|grab|pull|retrieve|look\s+up)\s+(?:me\s+)?(?:(?:this|that|the|some|any|more|latest)\s+)?(?:web\s*)?(?:page|site|info|information|details|data|content|news|updates?)\b(.*)$`)
	searchDirectivePattern = regexp.MustCompile(`(?i)\bsearch(?:\s+the\s+web|\s+online)?\s+for\b(.*)$`)
	leadingConnector       = regexp.MustCompile(`(?i)^\s*(?:about|on|for|regarding|from|of|re)\b`)
)

var topicFiller = map[string]struct{}{
	"please": {}, "thanks": {}, "page": {}, "info": {}, "information": {}, "details": {},
	"site": {}, "website": {}, "link": {}, "url": {}, "stuff": {},
}

type directiveMatch struct {
	matched bool
	topic   string
}

// matchDirective recognizes explicit "fetch/get ... about X" and "search for X" requests.
func matchDirective(prompt string) directiveMatch {
	var tail string
	switch {
	case fetchDirectivePattern.MatchString(prompt):
		tail = fetchDirectivePattern.FindStringSubmatch(prompt)[1]
	case searchDirectivePattern.MatchString(prompt):
		tail = searchDirectivePattern.FindStringSubmatch(prompt)[1]
	default:
		return directiveMatch{}
	}
	return directiveMatch{matched: true, topic: cleanTopic(tail)}
}

func cleanTopic(raw string) string {
	tail := leadingConnector.ReplaceAllString(raw, "")
	tail = strings.Trim(strings.TrimSpace(tail), " \t\"'`.,;:!?()[]")

	words := strings.Fields(tail)
	kept := make([]string, 0, len(words))
	meaningful := 0
	for _, word := range words {
		bare := strings.ToLower(strings.Trim(word, "\"'`.,;:!?()[]"))
		if bare == "" {
			continue
		}
		if _, filler := topicFiller[bare]; filler {
			continue
		}
		if len(grounding.Tokenize(bare)) > 0 {
			meaningful++
		}
		kept = append(kept, strings.Trim(word, "\"'`,;:!?()[]"))
	}
	if meaningful == 0 {
		return ""
	}
	return strings.Join(kept, " ")
}
