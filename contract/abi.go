package contract

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/0xmhha/job-indexer/job"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed JobManager.json
var embeddedABI []byte

// ErrUnknownEvent is returned for logs that are not tracked JobManager events
var ErrUnknownEvent = errors.New("unknown event")

// Binding ties the JobManager ABI to one deployed address
type Binding struct {
	Address common.Address
	ABI     abi.ABI

	topics map[common.Hash]job.EventType
	ids    map[job.EventType]common.Hash
}

// LoadABI parses the ABI at path, or the embedded JobManager ABI when path is
// empty. Both a bare ABI array and a build artifact with an "abi" field are
// accepted.
func LoadABI(path string) (abi.ABI, error) {
	data := embeddedABI
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("failed to read ABI file: %w", err)
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(trimmed, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("failed to parse ABI artifact: %w", err)
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, fmt.Errorf("ABI artifact has no abi field")
		}
		trimmed = artifact.ABI
	}

	parsed, err := abi.JSON(bytes.NewReader(trimmed))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// NewBinding loads the ABI and checks it declares every tracked event
func NewBinding(address common.Address, abiPath string) (*Binding, error) {
	parsed, err := LoadABI(abiPath)
	if err != nil {
		return nil, err
	}

	b := &Binding{
		Address: address,
		ABI:     parsed,
		topics:  make(map[common.Hash]job.EventType, len(job.AllEventTypes)),
		ids:     make(map[job.EventType]common.Hash, len(job.AllEventTypes)),
	}
	for _, et := range job.AllEventTypes {
		ev, ok := parsed.Events[string(et)]
		if !ok {
			return nil, fmt.Errorf("ABI does not declare event %s", et)
		}
		b.topics[ev.ID] = et
		b.ids[et] = ev.ID
	}
	if _, ok := parsed.Methods[jobsMethod]; !ok {
		return nil, fmt.Errorf("ABI does not declare method %s", jobsMethod)
	}
	return b, nil
}

// Topic returns the topic0 hash of an event type
func (b *Binding) Topic(et job.EventType) common.Hash {
	return b.ids[et]
}

// EventType returns the event type for a topic0 hash
func (b *Binding) EventType(topic common.Hash) (job.EventType, bool) {
	et, ok := b.topics[topic]
	return et, ok
}

// FilterQuery returns a log filter for the given event types on the bound
// address. With no types it matches every tracked event.
func (b *Binding) FilterQuery(types ...job.EventType) ethereum.FilterQuery {
	if len(types) == 0 {
		types = job.AllEventTypes
	}
	topic0 := make([]common.Hash, 0, len(types))
	for _, et := range types {
		topic0 = append(topic0, b.ids[et])
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{b.Address},
		Topics:    [][]common.Hash{topic0},
	}
}
