package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/0xmhha/job-indexer/job"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger creates a logger whose entries can be inspected by the test
func NewTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// Pos builds a position with a deterministic tx hash
func Pos(block uint64, index uint) job.Position {
	return job.Position{
		BlockNumber: block,
		LogIndex:    index,
		TxHash:      fmt.Sprintf("0x%016x%08x", block, index),
	}
}

// Posted builds a JobPosted event
func Posted(id uint64, requester, dataURL, scriptURL string, pos job.Position) *job.Event {
	return &job.Event{
		Type:      job.EventJobPosted,
		JobID:     id,
		Position:  pos,
		Requester: requester,
		RewardUSD: "100",
		RewardETH: "50000000000000000",
		DataURL:   dataURL,
		ScriptURL: scriptURL,
	}
}

// Accepted builds a JobAccepted event
func Accepted(id uint64, provider string, pos job.Position) *job.Event {
	return &job.Event{Type: job.EventJobAccepted, JobID: id, Position: pos, Provider: provider}
}

// ResultSubmitted builds a JobResultSubmitted event
func ResultSubmitted(id uint64, provider, resultURL string, pos job.Position) *job.Event {
	return &job.Event{Type: job.EventJobResultSubmitted, JobID: id, Position: pos, Provider: provider, ResultURL: resultURL}
}

// Approved builds a JobApproved event
func Approved(id uint64, pos job.Position) *job.Event {
	return &job.Event{Type: job.EventJobApproved, JobID: id, Position: pos}
}

// Cancelled builds a JobCancelled event
func Cancelled(id uint64, pos job.Position) *job.Event {
	return &job.Event{Type: job.EventJobCancelled, JobID: id, Position: pos}
}

// Lifecycle returns the full happy-path event sequence for one job, starting at block
func Lifecycle(id uint64, block uint64) []*job.Event {
	return []*job.Event{
		Posted(id, "0xaa", fmt.Sprintf("d%d", id), fmt.Sprintf("s%d", id), Pos(block, 0)),
		Accepted(id, "0xbb", Pos(block+1, 0)),
		ResultSubmitted(id, "0xbb", fmt.Sprintf("r%d", id), Pos(block+2, 0)),
		Approved(id, Pos(block+3, 0)),
	}
}

// Eventually polls cond until it holds or the timeout elapses
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(msgAndArgs) > 0 {
		t.Fatalf("condition not met within %v: %v", timeout, msgAndArgs[0])
	}
	t.Fatalf("condition not met within %v", timeout)
}
