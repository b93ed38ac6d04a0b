package job

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle position of a job
type Status string

const (
	StatusOpen            Status = "Open"
	StatusInProgress      Status = "InProgress"
	StatusPendingApproval Status = "PendingApproval"
	StatusCompleted       Status = "Completed"
	StatusCancelled       Status = "Cancelled"
)

// statusOrder mirrors the contract's enum ordinal
var statusOrder = []Status{
	StatusOpen,
	StatusInProgress,
	StatusPendingApproval,
	StatusCompleted,
	StatusCancelled,
}

// ParseStatus converts a stored status string back into a Status
func ParseStatus(s string) (Status, error) {
	for _, st := range statusOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// StatusFromOrdinal maps the on-chain enum value to a Status
func StatusFromOrdinal(v uint8) (Status, error) {
	if int(v) >= len(statusOrder) {
		return "", fmt.Errorf("unknown job status ordinal %d", v)
	}
	return statusOrder[v], nil
}

// IsTerminal reports whether no further transitions are applied after s
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Job is the persisted projection of a single on-chain job
type Job struct {
	ID          uint64    `json:"id" cbor:"1,keyasint"`
	Status      Status    `json:"status" cbor:"2,keyasint"`
	Requester   string    `json:"requester" cbor:"3,keyasint"`
	Provider    string    `json:"provider,omitempty" cbor:"4,keyasint,omitempty"`
	DataURL     string    `json:"dataUrl" cbor:"5,keyasint"`
	ScriptURL   string    `json:"scriptUrl" cbor:"6,keyasint"`
	ResultURL   string    `json:"resultUrl,omitempty" cbor:"7,keyasint,omitempty"`
	RewardUSD   string    `json:"rewardUsd" cbor:"8,keyasint"`
	RewardETH   string    `json:"rewardEth" cbor:"9,keyasint"`
	TxHash      string    `json:"txHash" cbor:"10,keyasint"`
	BlockNumber uint64    `json:"blockNumber" cbor:"11,keyasint"`
	CreatedAt   time.Time `json:"createdAt" cbor:"12,keyasint"`
	UpdatedAt   time.Time `json:"updatedAt" cbor:"13,keyasint"`
}

// Update carries the fields a transition writes alongside the new status.
// Empty strings leave the stored value untouched.
type Update struct {
	Provider    string
	ResultURL   string
	TxHash      string
	BlockNumber uint64
}

// Apply copies the transition onto j in place
func (u Update) Apply(j *Job, next Status, now time.Time) {
	j.Status = next
	if u.Provider != "" {
		j.Provider = u.Provider
	}
	if u.ResultURL != "" {
		j.ResultURL = u.ResultURL
	}
	if u.TxHash != "" {
		j.TxHash = u.TxHash
	}
	if u.BlockNumber > j.BlockNumber {
		j.BlockNumber = u.BlockNumber
	}
	j.UpdatedAt = now
}

// NormalizeAddress returns the lowercase canonical form of a hex address
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
