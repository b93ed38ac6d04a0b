package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/0xmhha/job-indexer/job"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

const jobsMethod = "s_jobs"

// ErrJobNotOnChain is returned when s_jobs has no record for the id
var ErrJobNotOnChain = errors.New("job not found on chain")

// ContractCaller performs eth_call. *client.Connection satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader reads job state from the contract, rate limited
type Reader struct {
	binding *Binding
	caller  ContractCaller
	limiter *rate.Limiter
}

// NewReader creates a Reader allowing perSecond calls with an equal burst
func NewReader(b *Binding, caller ContractCaller, perSecond float64) *Reader {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Reader{
		binding: b,
		caller:  caller,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// GetJob calls s_jobs(id) and returns the on-chain view of the job.
// Only identity, status, address and URL fields are populated.
func (r *Reader) GetJob(ctx context.Context, id uint64) (*job.Job, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	input, err := r.binding.ABI.Pack(jobsMethod, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", jobsMethod, err)
	}

	to := r.binding.Address
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s(%d): %w", jobsMethod, id, err)
	}

	values, err := r.binding.ABI.Unpack(jobsMethod, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s(%d): %w", jobsMethod, id, err)
	}
	if len(values) != 9 {
		return nil, fmt.Errorf("%s(%d) returned %d values", jobsMethod, id, len(values))
	}

	onChainID, _ := values[0].(*big.Int)
	if onChainID == nil || onChainID.Sign() == 0 {
		return nil, fmt.Errorf("job %d: %w", id, ErrJobNotOnChain)
	}

	requester, _ := values[1].(common.Address)
	provider, _ := values[2].(common.Address)
	rewardUSD, _ := values[3].(*big.Int)
	rewardETH, _ := values[4].(*big.Int)
	ordinal, _ := values[8].(uint8)

	status, err := job.StatusFromOrdinal(ordinal)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", id, err)
	}

	j := &job.Job{
		ID:        id,
		Status:    status,
		Requester: job.NormalizeAddress(requester.Hex()),
		DataURL:   stringValue(values[5]),
		ScriptURL: stringValue(values[6]),
		ResultURL: stringValue(values[7]),
	}
	if provider != (common.Address{}) {
		j.Provider = job.NormalizeAddress(provider.Hex())
	}
	if rewardUSD != nil {
		j.RewardUSD = rewardUSD.String()
	}
	if rewardETH != nil {
		j.RewardETH = rewardETH.String()
	}
	return j, nil
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
