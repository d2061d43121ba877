package httpapi

import (
	"fmt"
	"strings"

	"webchat/backend/internal/research"
)

const (
	thinkingTraceStatusRunning = "running"
	thinkingTraceStatusDone    = "done"
	thinkingTraceStatusStopped = "stopped"
	maxThinkingTraceEntries    = 60
)

type thinkingTraceEntry struct {
	Stage      research.Stage   `json:"stage"`
	Title      string           `json:"title"`
	Detail     string           `json:"detail,omitempty"`
	Verdict    research.Verdict `json:"verdict,omitempty"`
	Iteration  *int             `json:"iteration,omitempty"`
	Iterations *int             `json:"iterations,omitempty"`
	Findings   *int             `json:"findings,omitempty"`
}

type thinkingTrace struct {
	Status  string               `json:"status"`
	Summary string               `json:"summary"`
	Entries []thinkingTraceEntry `json:"entries"`
}

// thinkingTraceCollector keeps the last research steps so the final event can
// carry a compact trace of how the answer was reached.
type thinkingTraceCollector struct {
	trace thinkingTrace
}

func newThinkingTraceCollector() *thinkingTraceCollector {
	return &thinkingTraceCollector{
		trace: thinkingTrace{
			Status:  thinkingTraceStatusRunning,
			Summary: "Working on your request",
			Entries: make([]thinkingTraceEntry, 0, 8),
		},
	}
}

func (c *thinkingTraceCollector) AppendProgress(progress research.Progress) {
	if c == nil {
		return
	}

	title := strings.TrimSpace(progress.Message)
	if title == "" {
		title = string(progress.Stage)
	}

	detail := strings.TrimSpace(progress.Query)
	if progress.Error != "" {
		detail = strings.TrimSpace(progress.Error)
	}
	entry := thinkingTraceEntry{
		Stage:      progress.Stage,
		Title:      title,
		Detail:     detail,
		Verdict:    progress.Verdict,
		Iteration:  optionalPositiveInt(progress.Iteration),
		Iterations: optionalPositiveInt(progress.Iterations),
		Findings:   optionalPositiveInt(progress.Findings),
	}

	c.trace.Entries = append(c.trace.Entries, entry)
	if len(c.trace.Entries) > maxThinkingTraceEntries {
		c.trace.Entries = c.trace.Entries[len(c.trace.Entries)-maxThinkingTraceEntries:]
	}

	if detail != "" {
		c.trace.Summary = fmt.Sprintf("%s: %s", title, detail)
		return
	}
	c.trace.Summary = title
}

func (c *thinkingTraceCollector) MarkDone() {
	if c == nil {
		return
	}
	c.trace.Status = thinkingTraceStatusDone
	if strings.TrimSpace(c.trace.Summary) == "" {
		c.trace.Summary = "Research complete"
	}
}

func (c *thinkingTraceCollector) MarkStopped(summary string) {
	if c == nil {
		return
	}
	c.trace.Status = thinkingTraceStatusStopped
	if trimmed := strings.TrimSpace(summary); trimmed != "" {
		c.trace.Summary = trimmed
		return
	}
	if strings.TrimSpace(c.trace.Summary) == "" {
		c.trace.Summary = "Stopped"
	}
}

func (c *thinkingTraceCollector) Snapshot() *thinkingTrace {
	if c == nil || len(c.trace.Entries) == 0 {
		return nil
	}
	entries := make([]thinkingTraceEntry, len(c.trace.Entries))
	copy(entries, c.trace.Entries)
	return &thinkingTrace{
		Status:  c.trace.Status,
		Summary: c.trace.Summary,
		Entries: entries,
	}
}

func optionalPositiveInt(value int) *int {
	if value <= 0 {
		return nil
	}
	v := value
	return &v
}
