package stream

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	directiveKeyword = "search"
	// maxPrefixBuffer bounds how long an unterminated directive may be held back.
	maxPrefixBuffer = 300
)

var directivePattern = regexp.MustCompile(`(?is)\[\[\s*search\s*:\s*(.*?)\s*\]\]`)

type detectorState int

const (
	stateCheckingPrefix detectorState = iota
	stateForwarding
	stateDetected
)

// Directive is an in-band request from the model for more web results.
type Directive struct {
	Query string
}

// Detector holds back the start of a generation until it is clear whether the
// model opened with a [[search: ...]] directive. It works on whole chunks.
type Detector struct {
	state  detectorState
	buffer strings.Builder
}

func NewDetector() *Detector {
	return &Detector{}
}

// Feed consumes one chunk. It returns text that is safe to show the user, or a
// directive once one is recognized. After a directive nothing is forwarded.
func (d *Detector) Feed(chunk string) (string, *Directive) {
	switch d.state {
	case stateForwarding:
		return chunk, nil
	case stateDetected:
		return "", nil
	}

	d.buffer.WriteString(chunk)
	buffered := d.buffer.String()
	head := strings.TrimLeftFunc(buffered, unicode.IsSpace)
	if head == "" {
		return "", nil
	}

	if loc := directivePattern.FindStringSubmatchIndex(head); loc != nil && loc[0] == 0 {
		if directive := d.accept(head[loc[2]:loc[3]]); directive != nil {
			return "", directive
		}
		return d.diverge(buffered)
	}

	if stillAmbiguous(head) && len(buffered) <= maxPrefixBuffer {
		return "", nil
	}

	// a directive embedded in the same divergent chunk still counts
	if match := directivePattern.FindStringSubmatch(head); match != nil {
		if directive := d.accept(match[1]); directive != nil {
			return "", directive
		}
	}
	return d.diverge(buffered)
}

// Flush releases whatever is still held back once the stream has ended.
func (d *Detector) Flush() string {
	if d.state != stateCheckingPrefix {
		return ""
	}
	d.state = stateForwarding
	out := d.buffer.String()
	d.buffer.Reset()
	return out
}

func (d *Detector) Detected() bool {
	return d.state == stateDetected
}

func (d *Detector) accept(rawQuery string) *Directive {
	query := strings.Join(strings.Fields(rawQuery), " ")
	if query == "" {
		return nil
	}
	d.state = stateDetected
	d.buffer.Reset()
	return &Directive{Query: query}
}

func (d *Detector) diverge(buffered string) (string, *Directive) {
	d.state = stateForwarding
	d.buffer.Reset()
	return buffered, nil
}

// stillAmbiguous reports whether head could still grow into a directive: it is
// either a prefix of the opener or an opened directive awaiting "]]". The
// opener allows the same whitespace as directivePattern: "[[ search : ".
func stillAmbiguous(head string) bool {
	lower := strings.ToLower(head)
	if len(lower) < 2 {
		return strings.HasPrefix("[[", lower)
	}
	if !strings.HasPrefix(lower, "[[") {
		return false
	}

	rest := strings.TrimLeftFunc(lower[2:], unicode.IsSpace)
	if len(rest) < len(directiveKeyword) {
		return strings.HasPrefix(directiveKeyword, rest)
	}
	if !strings.HasPrefix(rest, directiveKeyword) {
		return false
	}

	rest = strings.TrimLeftFunc(rest[len(directiveKeyword):], unicode.IsSpace)
	if rest == "" {
		return true
	}
	return rest[0] == ':' && !strings.Contains(rest, "]]")
}
