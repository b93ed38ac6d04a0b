package job

import "fmt"

// Transition describes what an event does to a job record
type Transition struct {
	// Target is the status the event moves the job to
	Target Status

	// Prior lists the statuses the stored record must be in for the update
	// to apply. Empty for JobPosted, which creates the record.
	Prior []Status
}

// Creates reports whether the transition creates the record
func (t Transition) Creates() bool {
	return len(t.Prior) == 0
}

var transitions = map[EventType]Transition{
	EventJobPosted:          {Target: StatusOpen},
	EventJobAccepted:        {Target: StatusInProgress, Prior: []Status{StatusOpen}},
	EventJobResultSubmitted: {Target: StatusPendingApproval, Prior: []Status{StatusInProgress}},
	EventJobApproved:        {Target: StatusCompleted, Prior: []Status{StatusPendingApproval}},
	EventJobCancelled:       {Target: StatusCancelled, Prior: []Status{StatusOpen}},
}

// TransitionFor returns the lifecycle rule for an event type
func TransitionFor(t EventType) (Transition, error) {
	tr, ok := transitions[t]
	if !ok {
		return Transition{}, fmt.Errorf("no transition for event type %q", t)
	}
	return tr, nil
}

// Verdict is the decision taken when a conditional update finds the record
// in a status other than the expected prior
type Verdict int

const (
	// VerdictApply means the record is in an expected prior status
	VerdictApply Verdict = iota
	// VerdictDuplicate means the target was already reached or superseded
	VerdictDuplicate
	// VerdictBehind means a predecessor event has not been applied yet
	VerdictBehind
	// VerdictConflict means the event can never apply to this record
	VerdictConflict
)

// String implements fmt.Stringer
func (v Verdict) String() string {
	switch v {
	case VerdictApply:
		return "apply"
	case VerdictDuplicate:
		return "duplicate"
	case VerdictBehind:
		return "behind"
	case VerdictConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// rank is the position on the main line Open → InProgress → PendingApproval → Completed
func rank(s Status) int {
	switch s {
	case StatusOpen:
		return 0
	case StatusInProgress:
		return 1
	case StatusPendingApproval:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

// Classify decides what to do with an event whose transition targets
// target when the stored record is in current.
//
// Terminal records absorb everything. Cancellation is a branch off Open only,
// so a cancel against a job already past Open is a conflict, not a lag.
func Classify(current Status, tr Transition) Verdict {
	if current == tr.Target || current.IsTerminal() {
		return VerdictDuplicate
	}
	for _, p := range tr.Prior {
		if current == p {
			return VerdictApply
		}
	}
	if tr.Target == StatusCancelled {
		return VerdictConflict
	}
	if rank(current) > rank(tr.Target) {
		return VerdictDuplicate
	}
	return VerdictBehind
}
