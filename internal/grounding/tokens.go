package grounding

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minTokenRunes = 3
	MaxTokens     = 20
)

var stopWords = toSet(`a about above after again against all also am an and any anything are as at
be because been before being below between both but by can could did do does doing done down during
each else even ever few for from further get got had has have having he her here hers him his how
i if in into is it its itself just know let like many may me might more most much must my need no nor
not now of off ok okay on once one only or other our ours out over own please same she should so some
something such sure tell than thank thanks that the their theirs them then there these they thing
things think this those through to too two under until up very want was way we well were what whats
when where which while who whom why will with would yes yet you your yours next year years today
tomorrow yesterday again still really`)

func toSet(raw string) map[string]struct{} {
	fields := strings.Fields(raw)
	out := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		out[field] = struct{}{}
	}
	return out
}

func IsStopWord(word string) bool {
	_, ok := stopWords[strings.ToLower(word)]
	return ok
}

// Words splits text into lower-cased alphanumeric runs of any length.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokenize returns the distinct content tokens of text in first-seen order, capped at MaxTokens.
func Tokenize(text string) []string {
	out := make([]string, 0, MaxTokens)
	seen := make(map[string]struct{}, MaxTokens)
	for _, word := range Words(text) {
		if utf8.RuneCountInString(word) < minTokenRunes || IsStopWord(word) {
			continue
		}
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
		if len(out) == MaxTokens {
			break
		}
	}
	return out
}

func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}
