package testutil

import (
	"testing"
	"time"

	"github.com/0xmhha/job-indexer/job"
)

func TestNewTestLogger(t *testing.T) {
	logger, logs := NewTestLogger(t)
	logger.Info("hello")
	if logs.Len() != 1 {
		t.Errorf("expected 1 observed entry, got %d", logs.Len())
	}
}

func TestLifecycle(t *testing.T) {
	events := Lifecycle(7, 100)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}

	want := []job.EventType{job.EventJobPosted, job.EventJobAccepted, job.EventJobResultSubmitted, job.EventJobApproved}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d type = %s, want %s", i, ev.Type, want[i])
		}
		if ev.JobID != 7 {
			t.Errorf("event %d id = %d, want 7", i, ev.JobID)
		}
		if i > 0 && !events[i-1].Position.Before(ev.Position) {
			t.Errorf("event %d is not after event %d", i, i-1)
		}
	}
}

func TestPosDistinctHashes(t *testing.T) {
	if Pos(1, 0).TxHash == Pos(1, 1).TxHash {
		t.Error("Pos() should produce distinct hashes per log index")
	}
}

func TestEventually(t *testing.T) {
	start := time.Now()
	Eventually(t, time.Second, func() bool { return time.Since(start) > 20*time.Millisecond })
}
