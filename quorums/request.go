package quorums

import (
	"github.com/qubic/go-llmq/quorum"
	"github.com/qubic/go-llmq/requests"
	"github.com/qubic/go-llmq/types"
	"github.com/qubic/go-llmq/wire"
	"go.uber.org/zap"
)

// RequestQuorumData sends a qgetdata for the quorum based on baseBlock to peer. It returns false
// when the request is not possible or an unexpired identical request to the same peer exists.
func (m *Manager) RequestQuorumData(peer Peer, llmqType types.LLMQType, baseBlock *types.Block, mask wire.DataMask, proTxHash types.Hash) bool {
	if peer == nil {
		return false
	}

	logger := m.logger.With(zap.Int64("peer", peer.ID()), zap.Uint8("llmqType", uint8(llmqType)))

	if peer.Version() < wire.LLMQDataMessagesVersion {
		logger.Debug("peer version too low", zap.Int32("version", peer.Version()))
		return false
	}
	if peer.VerifiedProTxHash().IsNull() && !peer.IsWatch() {
		logger.Debug("peer is not a verified masternode or a qwatch connection")
		return false
	}
	if !m.network.HasLLMQ(llmqType) {
		logger.Debug("invalid llmq type")
		return false
	}
	if baseBlock == nil {
		logger.Debug("invalid base block")
		return false
	}
	if m.GetQuorum(llmqType, baseBlock) == nil {
		logger.Debug("quorum not found", zap.Stringer("quorumHash", baseBlock.Hash))
		return false
	}

	req := wire.NewQuorumDataRequest(llmqType, baseBlock.Hash, mask, proTxHash, m.clock.Now())
	key := requests.NewKey(peer.VerifiedProTxHash(), true, req)
	if !m.registry.TryAdd(key, req) {
		logger.Debug("already requested", zap.Stringer("key", key))
		return false
	}

	m.peers.PushMessage(peer, wire.CmdQGetData, wire.MarshalQGetData(req))
	m.metrics.DataRequestsSent.WithLabelValues(llmqType.String()).Inc()
	logger.Debug("quorum data requested", zap.Stringer("request", req))

	return true
}

// GetQuorumRecoveryStartOffset spreads the members a recovering node asks first. It is the
// position of this node in the sorted list of valid masternodes at block, modulo the quorum size.
func (m *Manager) GetQuorumRecoveryStartOffset(q *quorum.Quorum, block *types.Block) int {
	mns := m.masternodes.GetValidMasternodes(block)
	hashes := make([]types.Hash, 0, len(mns))
	for _, mn := range mns {
		hashes = append(hashes, mn.ProTxHash)
	}
	types.SortHashes(hashes)

	index := 0
	for i, h := range hashes {
		if h == m.cfg.ProTxHash {
			index = i
			break
		}
	}

	size := len(q.Commitment().ValidMembers)
	if size == 0 {
		return 0
	}
	return index % size
}
