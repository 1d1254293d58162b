package quorum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/qubic/go-llmq/crypto"
	"github.com/qubic/go-llmq/quorum/quorumtest"
	"github.com/qubic/go-llmq/store"
	"github.com/qubic/go-llmq/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFixture(t *testing.T) *quorumtest.Fixture {
	t.Helper()
	params, ok := types.LookupParams(types.LLMQTest)
	require.True(t, ok)

	fx, err := quorumtest.New(params, &types.Block{Hash: types.Hash{0x10}, Height: 24})
	require.NoError(t, err)
	return fx
}

func newQuorum(fx *quorumtest.Fixture) *Quorum {
	return New(fx.Params, fx.Commitment, fx.BaseBlock, types.Hash{0x20}, fx.Members, crypto.NewWorker())
}

func newStore(t *testing.T) *store.ContributionStore {
	t.Helper()
	dbDir, err := os.MkdirTemp("", "pebble_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dbDir) })

	db, err := pebble.Open(filepath.Join(dbDir, "testdb"), &pebble.Options{})
	require.NoError(t, err)
	s := store.NewContributionStore(db, zap.NewNop())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQuorum_Membership(t *testing.T) {
	fx := newFixture(t)
	fx.Commitment.ValidMembers[1] = false
	q := newQuorum(fx)

	require.Equal(t, fx.Params.Type, q.LLMQType())
	require.Equal(t, fx.BaseBlock.Hash, q.QuorumHash())
	require.Equal(t, 0, q.MemberIndex(fx.Members[0].ProTxHash))
	require.Equal(t, -1, q.MemberIndex(types.Hash{0xee}))

	require.True(t, q.IsMember(fx.Members[1].ProTxHash))
	require.False(t, q.IsValidMember(fx.Members[1].ProTxHash))
	require.True(t, q.IsValidMember(fx.Members[2].ProTxHash))
	require.False(t, q.IsMember(types.Hash{0xee}))
}

func TestQuorum_SetVerificationVector(t *testing.T) {
	fx := newFixture(t)
	q := newQuorum(fx)

	require.False(t, q.HasVerificationVector())
	require.False(t, q.PubKeyShare(0).IsValid())

	// a vector of a different polynomial is rejected and leaves the state untouched
	other, err := quorumtest.New(fx.Params, &types.Block{Hash: types.Hash{0x11}})
	require.NoError(t, err)
	require.False(t, q.SetVerificationVector(other.VerificationVector))
	require.False(t, q.HasVerificationVector())

	require.True(t, q.SetVerificationVector(fx.VerificationVector))
	require.True(t, q.HasVerificationVector())
	require.True(t, fx.VerificationVector.Equal(q.VerificationVector()))

	require.False(t, q.SetVerificationVector(other.VerificationVector))
	require.True(t, fx.VerificationVector.Equal(q.VerificationVector()))
}

func TestQuorum_PubKeyShare(t *testing.T) {
	fx := newFixture(t)
	fx.Commitment.ValidMembers[2] = false
	q := newQuorum(fx)
	require.True(t, q.SetVerificationVector(fx.VerificationVector))

	for i := range fx.Members {
		share := q.PubKeyShare(i)
		if i == 2 {
			require.False(t, share.IsValid())
			continue
		}
		require.True(t, share.IsValid())
		require.True(t, fx.SecretKeyShares[i].PublicKey().Equal(share))
		// second call is served from the per-member cache
		require.True(t, share.Equal(q.PubKeyShare(i)))
	}

	require.False(t, q.PubKeyShare(-1).IsValid())
	require.False(t, q.PubKeyShare(len(fx.Members)).IsValid())
}

func TestQuorum_SetSecretKeyShare(t *testing.T) {
	fx := newFixture(t)
	q := newQuorum(fx)
	self := fx.Members[1].ProTxHash

	// no vector yet, nothing to check against
	require.False(t, q.SetSecretKeyShare(fx.SecretKeyShares[1], self))

	require.True(t, q.SetVerificationVector(fx.VerificationVector))
	require.False(t, q.SetSecretKeyShare(fx.SecretKeyShares[0], self))
	require.False(t, q.SecretKeyShare().IsValid())
	require.False(t, q.SetSecretKeyShare(fx.SecretKeyShares[1], types.Hash{0xee}))

	require.True(t, q.SetSecretKeyShare(fx.SecretKeyShares[1], self))
	require.True(t, fx.SecretKeyShares[1].Equal(q.SecretKeyShare()))
}

func TestQuorum_Contributions(t *testing.T) {
	fx := newFixture(t)
	db := newStore(t)
	self := fx.Members[0].ProTxHash

	q := newQuorum(fx)
	require.NoError(t, q.WriteContributions(db))
	restored, err := newQuorum(fx).ReadContributions(db, self)
	require.NoError(t, err)
	require.False(t, restored, "nothing was written without a vector")

	require.True(t, q.SetVerificationVector(fx.VerificationVector))
	require.True(t, q.SetSecretKeyShare(fx.SecretKeyShares[0], self))
	require.NoError(t, q.WriteContributions(db))

	fresh := newQuorum(fx)
	restored, err = fresh.ReadContributions(db, self)
	require.NoError(t, err)
	require.True(t, restored)
	require.True(t, fx.VerificationVector.Equal(fresh.VerificationVector()))
	require.True(t, fx.SecretKeyShares[0].Equal(fresh.SecretKeyShare()))

	// a node that is not the owner of the share only gets the vector back
	stranger := newQuorum(fx)
	restored, err = stranger.ReadContributions(db, fx.Members[1].ProTxHash)
	require.NoError(t, err)
	require.True(t, restored)
	require.False(t, stranger.SecretKeyShare().IsValid())
}

func TestQuorum_CorruptContributionsAreAbsent(t *testing.T) {
	fx := newFixture(t)
	db := newStore(t)
	q := newQuorum(fx)

	require.NoError(t, db.WriteContributions(q.StorageKey(), []byte{0x0a, 0x01, 0x00}, nil))
	restored, err := q.ReadContributions(db, fx.Members[0].ProTxHash)
	require.NoError(t, err)
	require.False(t, restored)

	other, err := quorumtest.New(fx.Params, &types.Block{Hash: types.Hash{0x12}})
	require.NoError(t, err)
	require.NoError(t, db.WriteContributions(q.StorageKey(), other.VerificationVector.Marshal(), nil))
	restored, err = q.ReadContributions(db, fx.Members[0].ProTxHash)
	require.NoError(t, err)
	require.False(t, restored)
	require.False(t, q.HasVerificationVector())
}

func TestQuorum_StorageKey(t *testing.T) {
	fx := newFixture(t)
	a := newQuorum(fx)
	b := newQuorum(fx)
	require.Equal(t, a.StorageKey(), b.StorageKey())

	reordered := append([]types.Masternode{fx.Members[1], fx.Members[0]}, fx.Members[2:]...)
	c := New(fx.Params, fx.Commitment, fx.BaseBlock, types.Hash{}, reordered, crypto.NewWorker())
	require.NotEqual(t, a.StorageKey(), c.StorageKey())
}

func TestQuorum_RecoveryFlag(t *testing.T) {
	q := newQuorum(newFixture(t))

	require.False(t, q.IsRecoveryRunning())
	require.True(t, q.TryStartRecovery())
	require.False(t, q.TryStartRecovery())
	require.True(t, q.IsRecoveryRunning())
	q.FinishRecovery()
	require.True(t, q.TryStartRecovery())
}
