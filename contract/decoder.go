package contract

import (
	"fmt"
	"math/big"

	"github.com/0xmhha/job-indexer/job"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Decode turns a raw JobManager log into a typed event
func (b *Binding) Decode(log types.Log) (*job.Event, error) {
	if log.Address != b.Address {
		return nil, fmt.Errorf("log from %s: %w", log.Address.Hex(), ErrUnknownEvent)
	}
	// Logs must have at least one topic (the event signature)
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics: %w", ErrUnknownEvent)
	}

	et, ok := b.topics[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("topic %s: %w", log.Topics[0].Hex(), ErrUnknownEvent)
	}
	event := b.ABI.Events[string(et)]

	args := make(map[string]interface{})

	// Topics[1:] contain indexed parameters
	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse indexed parameters of %s: %w", et, err)
	}

	if nonIndexed := event.Inputs.NonIndexed(); len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, log.Data); err != nil {
			return nil, fmt.Errorf("failed to parse non-indexed parameters of %s: %w", et, err)
		}
	}

	id, err := uint64Arg(args, "jobId")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", et, err)
	}

	ev := &job.Event{
		Type:  et,
		JobID: id,
		Position: job.Position{
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
			TxHash:      log.TxHash.Hex(),
		},
		Removed: log.Removed,
	}

	switch et {
	case job.EventJobPosted:
		if ev.Requester, err = addressArg(args, "requester"); err != nil {
			return nil, err
		}
		if ev.RewardUSD, err = bigArg(args, "rewardUsd"); err != nil {
			return nil, err
		}
		if ev.RewardETH, err = bigArg(args, "rewardEth"); err != nil {
			return nil, err
		}
		ev.DataURL, _ = args["dataUrl"].(string)
		ev.ScriptURL, _ = args["scriptUrl"].(string)

	case job.EventJobAccepted:
		if ev.Provider, err = addressArg(args, "provider"); err != nil {
			return nil, err
		}

	case job.EventJobResultSubmitted:
		if ev.Provider, err = addressArg(args, "provider"); err != nil {
			return nil, err
		}
		ev.ResultURL, _ = args["resultUrl"].(string)
	}

	return ev, nil
}

func uint64Arg(args map[string]interface{}, name string) (uint64, error) {
	v, ok := args[name].(*big.Int)
	if !ok || v == nil {
		return 0, fmt.Errorf("missing %s", name)
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%s %s does not fit in 64 bits", name, v)
	}
	return v.Uint64(), nil
}

func bigArg(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name].(*big.Int)
	if !ok || v == nil {
		return "", fmt.Errorf("missing %s", name)
	}
	return v.String(), nil
}

func addressArg(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name].(common.Address)
	if !ok {
		return "", fmt.Errorf("missing %s", name)
	}
	return job.NormalizeAddress(v.Hex()), nil
}
