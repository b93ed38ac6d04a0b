package storage

import "fmt"

// Key prefixes for different data types
const (
	prefixMeta = "/meta/"
	prefixJobs = "/data/jobs/"
)

// Metadata keys
const (
	keyCursor = prefixMeta + "cursor"
)

// CursorKey returns the key for storing the resolved-block cursor
func CursorKey() []byte {
	return []byte(keyCursor)
}

// JobKey returns the key for storing a job record
// Format: /data/jobs/{id}
// Uses zero-padded fixed-width format for proper lexicographic sorting
func JobKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixJobs, id))
}
