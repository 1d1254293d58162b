package quorum

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/crypto"
	"github.com/qubic/go-llmq/store"
	"github.com/qubic/go-llmq/types"
	"github.com/qubic/go-llmq/utils"
	"go.uber.org/atomic"
)

// ShareBuilder derives the public key share of a member from the quorum verification vector.
type ShareBuilder interface {
	BuildPubKeyShare(id types.Hash, vvec crypto.VerificationVector) (crypto.PublicKey, error)
}

// ContributionDB is where quorums persist the material they assembled.
type ContributionDB interface {
	WriteContributions(quorumKey types.Hash, vvec, skShare []byte) error
	ReadVerificationVector(quorumKey types.Hash) ([]byte, error)
	ReadSecretKeyShare(quorumKey types.Hash) ([]byte, error)
}

// Quorum is a mined LLMQ. Its membership is fixed at construction; the crypto material is filled
// in as it is built, read back from disk or received from peers.
type Quorum struct {
	params         types.Params
	commitment     *types.FinalCommitment
	baseBlock      *types.Block
	minedBlockHash types.Hash
	members        []types.Masternode
	worker         ShareBuilder

	mu           sync.Mutex
	vvec         crypto.VerificationVector
	skShare      crypto.SecretKey
	pubKeyShares map[int]crypto.PublicKey

	recoveryRunning atomic.Bool
}

func New(params types.Params, commitment *types.FinalCommitment, baseBlock *types.Block, minedBlockHash types.Hash, members []types.Masternode, worker ShareBuilder) *Quorum {
	return &Quorum{
		params:         params,
		commitment:     commitment,
		baseBlock:      baseBlock,
		minedBlockHash: minedBlockHash,
		members:        append([]types.Masternode(nil), members...),
		worker:         worker,
		pubKeyShares:   make(map[int]crypto.PublicKey),
	}
}

func (q *Quorum) Params() types.Params               { return q.params }
func (q *Quorum) LLMQType() types.LLMQType           { return q.params.Type }
func (q *Quorum) Commitment() *types.FinalCommitment { return q.commitment }
func (q *Quorum) BaseBlock() *types.Block            { return q.baseBlock }
func (q *Quorum) MinedBlockHash() types.Hash         { return q.minedBlockHash }
func (q *Quorum) Members() []types.Masternode        { return q.members }
func (q *Quorum) QuorumHash() types.Hash             { return q.commitment.QuorumHash }

func (q *Quorum) MemberIndex(proTxHash types.Hash) int {
	for i, m := range q.members {
		if m.ProTxHash == proTxHash {
			return i
		}
	}
	return -1
}

func (q *Quorum) IsMember(proTxHash types.Hash) bool {
	return q.MemberIndex(proTxHash) >= 0
}

func (q *Quorum) IsValidMember(proTxHash types.Hash) bool {
	idx := q.MemberIndex(proTxHash)
	return idx >= 0 && q.commitment.IsValidMemberAt(idx)
}

// SetVerificationVector accepts vvec only if it hashes to the committed value.
func (q *Quorum) SetVerificationVector(vvec crypto.VerificationVector) bool {
	if !vvec.IsValid() || vvec.Hash() != q.commitment.QuorumVvecHash {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.vvec = append(crypto.VerificationVector(nil), vvec...)
	return true
}

// SetSecretKeyShare accepts sk only if its public key matches the share derived for self.
func (q *Quorum) SetSecretKeyShare(sk crypto.SecretKey, self types.Hash) bool {
	if !sk.IsValid() {
		return false
	}
	share := q.PubKeyShare(q.MemberIndex(self))
	if !share.IsValid() || !share.Equal(sk.PublicKey()) {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.skShare = sk
	return true
}

func (q *Quorum) HasVerificationVector() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.vvec != nil
}

// VerificationVector returns a copy, or nil when none is set.
func (q *Quorum) VerificationVector() crypto.VerificationVector {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.vvec == nil {
		return nil
	}
	return append(crypto.VerificationVector(nil), q.vvec...)
}

func (q *Quorum) SecretKeyShare() crypto.SecretKey {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.skShare
}

// PubKeyShare returns an invalid key when there is no vector, the index is out of range or the
// member did not pass the DKG.
func (q *Quorum) PubKeyShare(memberIndex int) crypto.PublicKey {
	if memberIndex < 0 || memberIndex >= len(q.members) || !q.commitment.IsValidMemberAt(memberIndex) {
		return crypto.PublicKey{}
	}

	q.mu.Lock()
	if pk, ok := q.pubKeyShares[memberIndex]; ok {
		q.mu.Unlock()
		return pk
	}
	vvec := q.vvec
	q.mu.Unlock()

	if vvec == nil {
		return crypto.PublicKey{}
	}

	pk, err := q.worker.BuildPubKeyShare(q.members[memberIndex].ProTxHash, vvec)
	if err != nil {
		return crypto.PublicKey{}
	}

	q.mu.Lock()
	q.pubKeyShares[memberIndex] = pk
	q.mu.Unlock()

	return pk
}

// StorageKey identifies the quorum in the contribution store. It covers the member list so a
// quorum rebuilt with a different membership never reads stale material.
func (q *Quorum) StorageKey() types.Hash {
	hw := utils.NewHashWriter("llmq/contributions").
		WriteUint8(uint8(q.params.Type)).
		WriteHash(q.commitment.QuorumHash).
		WriteUint64(uint64(len(q.members)))
	for _, m := range q.members {
		hw.WriteHash(m.ProTxHash)
	}
	return hw.MustSum()
}

// WriteContributions persists whatever material the quorum holds. Without a vector there is
// nothing worth storing.
func (q *Quorum) WriteContributions(db ContributionDB) error {
	vvec := q.VerificationVector()
	if vvec == nil {
		return nil
	}
	sk := q.SecretKeyShare()

	err := db.WriteContributions(q.StorageKey(), vvec.Marshal(), sk.Bytes())
	if err != nil {
		return errors.Wrapf(err, "writing contributions for quorum %s", q.QuorumHash())
	}
	return nil
}

// ReadContributions restores persisted material through the checked setters. It reports whether
// a valid vector was restored; the secret key share is best effort.
func (q *Quorum) ReadContributions(db ContributionDB, self types.Hash) (bool, error) {
	key := q.StorageKey()

	raw, err := db.ReadVerificationVector(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "reading verification vector")
	}

	vvec, err := crypto.UnmarshalVerificationVector(raw)
	if err != nil || !q.SetVerificationVector(vvec) {
		return false, nil
	}

	raw, err = db.ReadSecretKeyShare(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return true, errors.Wrap(err, "reading secret key share")
	}
	if sk, err := crypto.SecretKeyFromBytes(raw); err == nil {
		q.SetSecretKeyShare(sk, self)
	}

	return true, nil
}

// TryStartRecovery claims the recovery slot. Only the caller that gets true may run recovery.
func (q *Quorum) TryStartRecovery() bool {
	return q.recoveryRunning.CompareAndSwap(false, true)
}

func (q *Quorum) FinishRecovery() {
	q.recoveryRunning.Store(false)
}

func (q *Quorum) IsRecoveryRunning() bool {
	return q.recoveryRunning.Load()
}
