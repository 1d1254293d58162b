package quorums

import (
	"github.com/qubic/go-llmq/crypto"
	"github.com/qubic/go-llmq/types"
)

// Peer is a connected node as seen by the manager.
type Peer interface {
	ID() int64
	Version() int32
	// VerifiedProTxHash is null unless the peer proved it operates a masternode.
	VerifiedProTxHash() types.Hash
	// IsWatch reports an explicit quorum watch connection.
	IsWatch() bool
}

type BlockIndex interface {
	LookupBlock(hash types.Hash) *types.Block
	Tip() *types.Block
}

type CommitmentStore interface {
	// GetMinedCommitment returns the commitment and the hash of the block it was mined in.
	GetMinedCommitment(llmqType types.LLMQType, quorumHash types.Hash) (*types.FinalCommitment, types.Hash, bool)
	HasMinedCommitment(llmqType types.LLMQType, quorumHash types.Hash) bool
	// GetMinedCommitmentsIndexedUntilBlock returns base blocks of up to count quorums, newest first.
	GetMinedCommitmentsIndexedUntilBlock(llmqType types.LLMQType, block *types.Block, count int) []*types.Block
	// GetMinedCommitmentsUntilBlock is the same walk over commitments mined before indexing existed.
	GetMinedCommitmentsUntilBlock(llmqType types.LLMQType, block *types.Block, count int) []*types.Block
}

type DKGManager interface {
	GetVerifiedContributions(llmqType types.LLMQType, baseBlock *types.Block, validMembers []bool) (memberIndexes []int, vvecs []crypto.VerificationVector, skContributions []crypto.SecretKey, ok bool)
	GetEncryptedContributions(llmqType types.LLMQType, baseBlock *types.Block, validMembers []bool, proTxHash types.Hash) ([]crypto.EncryptedSecretKey, bool)
}

type MasternodeList interface {
	// GetAllQuorumMembers returns the deterministic member list of the quorum based on baseBlock.
	GetAllQuorumMembers(llmqType types.LLMQType, baseBlock *types.Block) []types.Masternode
	GetValidMasternodes(block *types.Block) []types.Masternode
}

type ChainState interface {
	IsQuorumTypeEnabled(llmqType types.LLMQType, block *types.Block) bool
	IsQuorumRotationEnabled(llmqType types.LLMQType, block *types.Block) bool
}

type SyncChecker interface {
	IsBlockchainSynced() bool
}

// PeerManager owns connections. Quorum connection sets are keyed by type and base block hash.
type PeerManager interface {
	GetMasternodeQuorums(llmqType types.LLMQType) []types.Hash
	HasMasternodeQuorumNodes(llmqType types.LLMQType, quorumHash types.Hash) bool
	SetMasternodeQuorumNodes(llmqType types.LLMQType, quorumHash types.Hash, proTxHashes []types.Hash)
	SetMasternodeQuorumRelayMembers(llmqType types.LLMQType, quorumHash types.Hash, proTxHashes []types.Hash)
	RemoveMasternodeQuorumNodes(llmqType types.LLMQType, quorumHash types.Hash)
	AddPendingMasternode(proTxHash types.Hash)

	ForEachPeer(fn func(Peer))
	PushMessage(peer Peer, command string, payload []byte)
	Misbehaving(peer Peer, score int, reason string)
	Disconnect(peer Peer)
}

type BLSWorker interface {
	BuildQuorumVerificationVector(vvecs []crypto.VerificationVector) (crypto.VerificationVector, error)
	AggregateSecretKeys(keys []crypto.SecretKey) (crypto.SecretKey, error)
	BuildPubKeyShare(id types.Hash, vvec crypto.VerificationVector) (crypto.PublicKey, error)
}
