package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/0xmhha/job-indexer/job"
	"github.com/fxamacker/cbor/v2"
)

// EncodeJob encodes a job record using CBOR
func EncodeJob(j *job.Job) ([]byte, error) {
	if j == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}

	data, err := cbor.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %d: %w", j.ID, err)
	}
	return data, nil
}

// DecodeJob decodes a job record from CBOR
func DecodeJob(data []byte) (*job.Job, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty: %w", ErrInvalidData)
	}

	var j job.Job
	if err := cbor.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if !j.Status.Valid() {
		return nil, fmt.Errorf("job %d has status %q: %w", j.ID, j.Status, ErrInvalidData)
	}
	return &j, nil
}

// EncodeUint64 encodes a uint64 as big-endian bytes
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64 decodes a big-endian uint64
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 length %d: %w", len(data), ErrInvalidData)
	}
	return binary.BigEndian.Uint64(data), nil
}
