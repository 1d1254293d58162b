// Package quorumtest builds complete, cryptographically consistent quorums for tests.
package quorumtest

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/crypto"
	"github.com/qubic/go-llmq/types"
	"github.com/qubic/go-llmq/utils"
)

// Fixture is the outcome of a DKG session. Only members marked valid in the commitment count as
// dealers.
type Fixture struct {
	Params         types.Params
	BaseBlock      *types.Block
	Members        []types.Masternode
	EncryptionKeys []*crypto.EncryptionKey

	// Contributions is indexed by dealer; each one holds a share per member.
	Contributions []crypto.Contribution

	VerificationVector crypto.VerificationVector
	SecretKeyShares    []crypto.SecretKey
	Commitment         *types.FinalCommitment
}

// MemberProTxHash is the identity of the i-th member of the quorum based on block.
func MemberProTxHash(block types.Hash, i int) types.Hash {
	return utils.NewHashWriter("quorumtest/member").WriteHash(block).WriteUint64(uint64(i)).MustSum()
}

func New(params types.Params, baseBlock *types.Block) (*Fixture, error) {
	valid := make([]bool, params.Size)
	for i := range valid {
		valid[i] = true
	}
	return NewWithValidMembers(params, baseBlock, valid)
}

// NewWithValidMembers builds a fixture whose quorum material only sums contributions of the
// members set in valid.
func NewWithValidMembers(params types.Params, baseBlock *types.Block, valid []bool) (*Fixture, error) {
	if len(valid) != params.Size {
		return nil, errors.Errorf("valid members has %d entries, quorum size is %d", len(valid), params.Size)
	}

	fx := Fixture{
		Params:    params,
		BaseBlock: baseBlock,
	}

	ids := make([]types.Hash, params.Size)
	for i := range ids {
		ids[i] = MemberProTxHash(baseBlock.Hash, i)
		fx.Members = append(fx.Members, types.Masternode{ProTxHash: ids[i]})

		key, err := crypto.GenerateEncryptionKey()
		if err != nil {
			return nil, errors.Wrap(err, "generating encryption key")
		}
		fx.EncryptionKeys = append(fx.EncryptionKeys, key)
	}

	for dealer := 0; dealer < params.Size; dealer++ {
		c, err := crypto.GenerateContribution(rand.Reader, params.Threshold, ids)
		if err != nil {
			return nil, errors.Wrapf(err, "generating contribution of dealer %d", dealer)
		}
		fx.Contributions = append(fx.Contributions, c)
	}

	w := crypto.NewWorker()
	var vvecs []crypto.VerificationVector
	for dealer, c := range fx.Contributions {
		if valid[dealer] {
			vvecs = append(vvecs, c.VerificationVector)
		}
	}
	vvec, err := w.BuildQuorumVerificationVector(vvecs)
	if err != nil {
		return nil, errors.Wrap(err, "building quorum verification vector")
	}
	fx.VerificationVector = vvec

	for i := range ids {
		var received []crypto.SecretKey
		for dealer, c := range fx.Contributions {
			if valid[dealer] {
				received = append(received, c.Shares[i])
			}
		}
		sk, err := w.AggregateSecretKeys(received)
		if err != nil {
			return nil, errors.Wrapf(err, "aggregating share of member %d", i)
		}
		fx.SecretKeyShares = append(fx.SecretKeyShares, sk)
	}

	fx.Commitment = &types.FinalCommitment{
		LLMQType:        params.Type,
		QuorumHash:      baseBlock.Hash,
		ValidMembers:    append([]bool(nil), valid...),
		QuorumPublicKey: vvec[0].Bytes(),
		QuorumVvecHash:  vvec.Hash(),
	}

	return &fx, nil
}

// VerifiedContributions returns what the DKG session hands to member self: the dealer indexes,
// their verification vectors and the secret contributions self received from them.
func (fx *Fixture) VerifiedContributions(self int) ([]int, []crypto.VerificationVector, []crypto.SecretKey) {
	var (
		indexes []int
		vvecs   []crypto.VerificationVector
		shares  []crypto.SecretKey
	)
	for dealer, c := range fx.Contributions {
		if !fx.Commitment.IsValidMemberAt(dealer) {
			continue
		}
		indexes = append(indexes, dealer)
		vvecs = append(vvecs, c.VerificationVector)
		shares = append(shares, c.Shares[self])
	}
	return indexes, vvecs, shares
}

// EncryptedContributions returns the share of every valid dealer for member, sealed to the
// member's key.
func (fx *Fixture) EncryptedContributions(member int) ([]crypto.EncryptedSecretKey, error) {
	pub, err := fx.EncryptionKeys[member].PublicKeyBytes()
	if err != nil {
		return nil, err
	}

	var out []crypto.EncryptedSecretKey
	for dealer, c := range fx.Contributions {
		if !fx.Commitment.IsValidMemberAt(dealer) {
			continue
		}
		enc, err := crypto.EncryptSecretKey(rand.Reader, pub, member, c.Shares[member])
		if err != nil {
			return nil, errors.Wrapf(err, "encrypting contribution of dealer %d", dealer)
		}
		out = append(out, enc)
	}
	return out, nil
}
