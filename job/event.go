package job

import (
	"fmt"
	"time"
)

// EventType names a JobManager contract event
type EventType string

const (
	EventJobPosted          EventType = "JobPosted"
	EventJobAccepted        EventType = "JobAccepted"
	EventJobResultSubmitted EventType = "JobResultSubmitted"
	EventJobApproved        EventType = "JobApproved"
	EventJobCancelled       EventType = "JobCancelled"
)

// AllEventTypes lists every event type the indexer tracks
var AllEventTypes = []EventType{
	EventJobPosted,
	EventJobAccepted,
	EventJobResultSubmitted,
	EventJobApproved,
	EventJobCancelled,
}

// Position locates an event on chain. Block then LogIndex gives emission order.
type Position struct {
	BlockNumber uint64
	LogIndex    uint
	TxHash      string
}

// Before reports whether p was emitted before o
func (p Position) Before(o Position) bool {
	if p.BlockNumber != o.BlockNumber {
		return p.BlockNumber < o.BlockNumber
	}
	return p.LogIndex < o.LogIndex
}

// String implements fmt.Stringer
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.BlockNumber, p.LogIndex)
}

// Event is one decoded contract event. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	JobID    uint64
	Position Position

	// Removed is set when the node reports the log as reorged out
	Removed bool

	// JobPosted
	Requester string
	RewardUSD string
	RewardETH string
	DataURL   string
	ScriptURL string

	// JobAccepted, JobResultSubmitted
	Provider string

	// JobResultSubmitted
	ResultURL string
}

// Key identifies a single delivery of an event for logging and dead-lettering
func (e *Event) Key() string {
	return fmt.Sprintf("%s/%d@%s", e.Type, e.JobID, e.Position)
}

// NewJob builds the Open record created by a JobPosted event
func (e *Event) NewJob(now time.Time) *Job {
	return &Job{
		ID:          e.JobID,
		Status:      StatusOpen,
		Requester:   NormalizeAddress(e.Requester),
		DataURL:     e.DataURL,
		ScriptURL:   e.ScriptURL,
		RewardUSD:   e.RewardUSD,
		RewardETH:   e.RewardETH,
		TxHash:      e.Position.TxHash,
		BlockNumber: e.Position.BlockNumber,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Update builds the field changes an update-type event writes
func (e *Event) Update() Update {
	return Update{
		Provider:    NormalizeAddress(e.Provider),
		ResultURL:   e.ResultURL,
		TxHash:      e.Position.TxHash,
		BlockNumber: e.Position.BlockNumber,
	}
}
