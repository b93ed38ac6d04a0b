package contract

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/0xmhha/job-indexer/job"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	requester    = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	provider     = common.HexToAddress("0x00000000000000000000000000000000000000BB")
)

func newTestBinding(t *testing.T) *Binding {
	t.Helper()
	b, err := NewBinding(contractAddr, "")
	require.NoError(t, err)
	return b
}

// packLog builds a log the way the node would deliver it
func packLog(t *testing.T, b *Binding, et job.EventType, id *big.Int, indexed []common.Hash, data ...interface{}) types.Log {
	t.Helper()
	event := b.ABI.Events[string(et)]
	payload, err := event.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)

	topics := append([]common.Hash{event.ID, common.BigToHash(id)}, indexed...)
	return types.Log{
		Address:     contractAddr,
		Topics:      topics,
		Data:        payload,
		BlockNumber: 120,
		Index:       3,
		TxHash:      common.HexToHash("0xabc"),
	}
}

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func TestLoadABI(t *testing.T) {
	parsed, err := LoadABI("")
	require.NoError(t, err)
	assert.Contains(t, parsed.Events, "JobPosted")
	assert.Contains(t, parsed.Methods, "s_jobs")

	// A bare ABI array is accepted as an override
	dir := t.TempDir()
	path := filepath.Join(dir, "abi.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"type":"event","name":"JobApproved","inputs":[{"name":"jobId","type":"uint256","indexed":true}]}]`), 0o600))
	parsed, err = LoadABI(path)
	require.NoError(t, err)
	assert.Contains(t, parsed.Events, "JobApproved")

	// but a binding needs every tracked event
	_, err = NewBinding(contractAddr, path)
	assert.Error(t, err)

	_, err = LoadABI(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"contractName":"x"}`), 0o600))
	_, err = LoadABI(path)
	assert.Error(t, err)
}

func TestFilterQuery(t *testing.T) {
	b := newTestBinding(t)

	q := b.FilterQuery(job.EventJobAccepted)
	assert.Equal(t, []common.Address{contractAddr}, q.Addresses)
	require.Len(t, q.Topics, 1)
	assert.Equal(t, []common.Hash{b.Topic(job.EventJobAccepted)}, q.Topics[0])

	all := b.FilterQuery()
	assert.Len(t, all.Topics[0], len(job.AllEventTypes))

	et, ok := b.EventType(b.Topic(job.EventJobCancelled))
	assert.True(t, ok)
	assert.Equal(t, job.EventJobCancelled, et)
}

func TestDecodeJobPosted(t *testing.T) {
	b := newTestBinding(t)
	log := packLog(t, b, job.EventJobPosted, big.NewInt(1),
		[]common.Hash{addressTopic(requester)},
		big.NewInt(100), big.NewInt(5e16), "d1", "s1")

	ev, err := b.Decode(log)
	require.NoError(t, err)
	assert.Equal(t, job.EventJobPosted, ev.Type)
	assert.Equal(t, uint64(1), ev.JobID)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", ev.Requester)
	assert.Equal(t, "100", ev.RewardUSD)
	assert.Equal(t, "50000000000000000", ev.RewardETH)
	assert.Equal(t, "d1", ev.DataURL)
	assert.Equal(t, "s1", ev.ScriptURL)
	assert.Equal(t, uint64(120), ev.Position.BlockNumber)
	assert.Equal(t, uint(3), ev.Position.LogIndex)
	assert.Equal(t, common.HexToHash("0xabc").Hex(), ev.Position.TxHash)
}

func TestDecodeUpdateEvents(t *testing.T) {
	b := newTestBinding(t)

	ev, err := b.Decode(packLog(t, b, job.EventJobAccepted, big.NewInt(2), []common.Hash{addressTopic(provider)}))
	require.NoError(t, err)
	assert.Equal(t, job.EventJobAccepted, ev.Type)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", ev.Provider)

	ev, err = b.Decode(packLog(t, b, job.EventJobResultSubmitted, big.NewInt(2), []common.Hash{addressTopic(provider)}, "r1"))
	require.NoError(t, err)
	assert.Equal(t, "r1", ev.ResultURL)

	ev, err = b.Decode(packLog(t, b, job.EventJobApproved, big.NewInt(2), nil))
	require.NoError(t, err)
	assert.Equal(t, job.EventJobApproved, ev.Type)

	removed := packLog(t, b, job.EventJobCancelled, big.NewInt(4), nil)
	removed.Removed = true
	ev, err = b.Decode(removed)
	require.NoError(t, err)
	assert.True(t, ev.Removed)
}

func TestDecodeErrors(t *testing.T) {
	b := newTestBinding(t)

	other := packLog(t, b, job.EventJobApproved, big.NewInt(1), nil)
	other.Address = common.HexToAddress("0x01")
	_, err := b.Decode(other)
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = b.Decode(types.Log{Address: contractAddr})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = b.Decode(types.Log{Address: contractAddr, Topics: []common.Hash{common.HexToHash("0xdead")}})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	_, err = b.Decode(packLog(t, b, job.EventJobApproved, huge, nil))
	assert.Error(t, err)

	truncated := packLog(t, b, job.EventJobResultSubmitted, big.NewInt(1), []common.Hash{addressTopic(provider)}, "r1")
	truncated.Data = truncated.Data[:10]
	_, err = b.Decode(truncated)
	assert.Error(t, err)
}

type fakeCaller struct {
	out   []byte
	err   error
	calls int
	last  ethereum.CallMsg
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, n *big.Int) ([]byte, error) {
	f.calls++
	f.last = msg
	return f.out, f.err
}

func packJob(t *testing.T, b *Binding, id int64, status uint8, resultURL string) []byte {
	t.Helper()
	out, err := b.ABI.Methods[jobsMethod].Outputs.Pack(
		big.NewInt(id), requester, provider, big.NewInt(100), big.NewInt(7),
		"d1", "s1", resultURL, status,
	)
	require.NoError(t, err)
	return out
}

func TestReaderGetJob(t *testing.T) {
	b := newTestBinding(t)
	caller := &fakeCaller{out: packJob(t, b, 9, 2, "r9")}
	r := NewReader(b, caller, 100)

	j, err := r.GetJob(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), j.ID)
	assert.Equal(t, job.StatusPendingApproval, j.Status)
	assert.Equal(t, "d1", j.DataURL)
	assert.Equal(t, "r9", j.ResultURL)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", j.Provider)
	assert.Equal(t, "100", j.RewardUSD)
	assert.Equal(t, &contractAddr, caller.last.To)
	assert.Equal(t, 1, caller.calls)
}

func TestReaderGetJobErrors(t *testing.T) {
	b := newTestBinding(t)

	r := NewReader(b, &fakeCaller{out: packJob(t, b, 0, 0, "")}, 100)
	_, err := r.GetJob(context.Background(), 5)
	assert.ErrorIs(t, err, ErrJobNotOnChain)

	boom := errors.New("boom")
	r = NewReader(b, &fakeCaller{err: boom}, 100)
	_, err = r.GetJob(context.Background(), 5)
	assert.ErrorIs(t, err, boom)

	r = NewReader(b, &fakeCaller{out: []byte{1, 2}}, 100)
	_, err = r.GetJob(context.Background(), 5)
	assert.Error(t, err)

	r = NewReader(b, &fakeCaller{out: packJob(t, b, 5, 9, "")}, 100)
	_, err = r.GetJob(context.Background(), 5)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r = NewReader(b, &fakeCaller{out: packJob(t, b, 5, 0, "")}, 0.001)
	r.limiter.Allow() // drain the single burst token
	_, err = r.GetJob(ctx, 5)
	assert.Error(t, err)
}
