package storage

import (
	"bytes"
	"testing"
)

func TestJobKey(t *testing.T) {
	tests := []struct {
		name string
		id   uint64
		want string
	}{
		{"zero", 0, "/data/jobs/00000000000000000000"},
		{"one", 1, "/data/jobs/00000000000000000001"},
		{"large", 1000000, "/data/jobs/00000000000001000000"},
		{"max uint64", 18446744073709551615, "/data/jobs/18446744073709551615"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(JobKey(tt.id)); got != tt.want {
				t.Errorf("JobKey() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestJobKeyOrdering(t *testing.T) {
	// Fixed-width ids sort numerically
	if bytes.Compare(JobKey(9), JobKey(10)) >= 0 {
		t.Error("JobKey(9) should sort before JobKey(10)")
	}
	if bytes.HasPrefix(CursorKey(), []byte(prefixJobs)) {
		t.Error("cursor key must not share the job prefix")
	}
}
