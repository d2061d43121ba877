package httpapi

import (
	"fmt"
	"testing"

	"webchat/backend/internal/research"
)

func TestThinkingTraceCollectorCapsEntries(t *testing.T) {
	collector := newThinkingTraceCollector()

	for i := 1; i <= maxThinkingTraceEntries+15; i++ {
		collector.AppendProgress(research.Progress{
			Stage:   research.StageIterationStart,
			Message: fmt.Sprintf("Step %d", i),
		})
	}

	collector.MarkDone()
	snapshot := collector.Snapshot()
	if snapshot == nil {
		t.Fatal("expected snapshot")
	}
	if len(snapshot.Entries) != maxThinkingTraceEntries {
		t.Fatalf("expected %d entries, got %d", maxThinkingTraceEntries, len(snapshot.Entries))
	}
	if snapshot.Entries[0].Title != "Step 16" {
		t.Fatalf("expected first retained entry to be Step 16, got %q", snapshot.Entries[0].Title)
	}
	if snapshot.Status != thinkingTraceStatusDone {
		t.Fatalf("expected done status, got %q", snapshot.Status)
	}
}

func TestThinkingTraceSummaryPrefersErrorDetail(t *testing.T) {
	collector := newThinkingTraceCollector()
	collector.AppendProgress(research.Progress{Stage: research.StageIterationStart, Message: "Pass 1 of 3", Query: "heat pumps", Iteration: 1})
	collector.AppendProgress(research.Progress{Stage: research.StageIterationError, Message: "Search failed", Error: "timeout"})
	collector.MarkStopped("")

	snapshot := collector.Snapshot()
	if snapshot.Summary != "Search failed: timeout" {
		t.Fatalf("unexpected summary: %q", snapshot.Summary)
	}
	if snapshot.Status != thinkingTraceStatusStopped {
		t.Fatalf("expected stopped status, got %q", snapshot.Status)
	}
	if snapshot.Entries[0].Iteration == nil || *snapshot.Entries[0].Iteration != 1 {
		t.Fatalf("expected iteration on first entry, got %+v", snapshot.Entries[0])
	}
}

func TestEmptyCollectorHasNoSnapshot(t *testing.T) {
	if snapshot := newThinkingTraceCollector().Snapshot(); snapshot != nil {
		t.Fatalf("expected nil snapshot, got %+v", snapshot)
	}
}
