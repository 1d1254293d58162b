package cache

import (
	"testing"

	"github.com/qubic/go-llmq/crypto"
	"github.com/qubic/go-llmq/quorum"
	"github.com/qubic/go-llmq/types"
	"github.com/stretchr/testify/require"
)

func testQuorum(params types.Params, hash types.Hash) *quorum.Quorum {
	commitment := &types.FinalCommitment{LLMQType: params.Type, QuorumHash: hash}
	return quorum.New(params, commitment, &types.Block{Hash: hash}, types.Hash{}, nil, crypto.NewWorker())
}

func TestCache_CapacityAndEviction(t *testing.T) {
	params, _ := types.LookupParams(types.LLMQTest)
	c, err := New([]types.Params{params})
	require.NoError(t, err)
	require.Equal(t, params.KeepOldConnections, c.Capacity(types.LLMQTest))

	for i := 0; i < params.KeepOldConnections+1; i++ {
		c.Add(testQuorum(params, types.Hash{byte(i)}))
	}
	require.Equal(t, params.KeepOldConnections, c.Len(types.LLMQTest))

	// the first one was the least recently used
	_, ok := c.Get(types.LLMQTest, types.Hash{0})
	require.False(t, ok)
	q, ok := c.Get(types.LLMQTest, types.Hash{1})
	require.True(t, ok)
	require.Equal(t, types.Hash{1}, q.QuorumHash())
}

func TestCache_UnknownType(t *testing.T) {
	params, _ := types.LookupParams(types.LLMQTest)
	c, err := New([]types.Params{params})
	require.NoError(t, err)

	other, _ := types.LookupParams(types.LLMQ400_60)
	c.Add(testQuorum(other, types.Hash{1}))
	_, ok := c.Get(types.LLMQ400_60, types.Hash{1})
	require.False(t, ok)
	require.Zero(t, c.Len(types.LLMQ400_60))

	c.AddScan(types.LLMQ400_60, types.Hash{1}, nil)
	_, ok = c.GetScan(types.LLMQ400_60, types.Hash{1})
	require.False(t, ok)
}

func TestCache_Scans(t *testing.T) {
	params, _ := types.LookupParams(types.LLMQTest)
	c, err := New([]types.Params{params})
	require.NoError(t, err)

	var blocks []*types.Block
	for i := 0; i < params.KeepOldConnections+2; i++ {
		blocks = append(blocks, &types.Block{Hash: types.Hash{byte(i)}, Height: int32(i)})
	}
	c.AddScan(types.LLMQTest, types.Hash{0xff}, blocks)

	cached, ok := c.GetScan(types.LLMQTest, types.Hash{0xff})
	require.True(t, ok)
	require.Len(t, cached, params.KeepOldConnections, "scan results are capped at capacity")
	require.Equal(t, types.Hash{0}, cached[0].Hash)

	// callers get their own copy
	cached[0] = nil
	again, _ := c.GetScan(types.LLMQTest, types.Hash{0xff})
	require.NotNil(t, again[0])
}
