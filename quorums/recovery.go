package quorums

import (
	"context"
	"time"

	"github.com/qubic/go-llmq/quorum"
	"github.com/qubic/go-llmq/requests"
	"github.com/qubic/go-llmq/types"
	"github.com/qubic/go-llmq/wire"
	"github.com/qubic/go-llmq/workers"
	"go.uber.org/zap"
)

const (
	recoverySuccess   = "success"
	recoveryExhausted = "exhausted"
	recoveryAborted   = "aborted"
)

// UpdatedBlockTip runs the per block maintenance once the chain is synced.
func (m *Manager) UpdatedBlockTip(tip *types.Block) {
	if tip == nil || !m.sync.IsBlockchainSynced() {
		return
	}

	for _, params := range m.network.LLMQs {
		m.CheckQuorumConnections(params, tip)
	}

	if removed := m.registry.Cleanup(); removed > 0 {
		m.metrics.ExpiredRequests.Add(float64(removed))
		m.logger.Debug("expired quorum data requests removed", zap.Int("removed", removed))
	}

	m.TriggerQuorumDataRecovery(tip)
}

// TriggerQuorumDataRecovery starts a recovery task for every recent quorum missing material this
// node should have.
func (m *Manager) TriggerQuorumDataRecovery(block *types.Block) {
	if !m.cfg.MasternodeMode || !m.cfg.DataRecovery || block == nil {
		return
	}

	self := m.cfg.ProTxHash
	for _, params := range m.network.LLMQs {
		quorums := m.ScanQuorums(params.Type, block, params.KeepOldConnections)

		typeMember := false
		for _, q := range quorums {
			if q.IsValidMember(self) {
				typeMember = true
				break
			}
		}

		syncMode, syncEnabled := m.cfg.QvvecSync[params.Type]
		syncCurrent := syncEnabled && (syncMode == QvvecSyncAlways || (syncMode == QvvecSyncOnlyIfTypeMember && typeMember))

		for _, q := range quorums {
			if q.IsRecoveryRunning() {
				continue
			}

			validMember := q.IsValidMember(self)
			var mask wire.DataMask
			if (validMember || syncCurrent) && !q.HasVerificationVector() {
				mask |= wire.VerificationVector
			}
			if validMember && !q.SecretKeyShare().IsValid() {
				mask |= wire.EncryptedContributions
			}
			if mask == 0 {
				continue
			}

			m.startQuorumDataRecovery(q, block, mask)
		}
	}
}

func (m *Manager) startCachePopulator(q *quorum.Quorum) {
	if !q.HasVerificationVector() {
		return
	}

	err := m.pool.Submit(func(ctx context.Context) {
		start := m.clock.Now()
		for i := range q.Members() {
			if ctx.Err() != nil {
				return
			}
			if q.Commitment().IsValidMemberAt(i) {
				q.PubKeyShare(i)
			}
		}
		m.logger.Debug("public key shares cached", zap.Stringer("quorumHash", q.QuorumHash()), zap.Duration("took", m.clock.Since(start)))
	})
	if err != nil {
		m.logger.Debug("cache populator not started", zap.Stringer("quorumHash", q.QuorumHash()), zap.Error(err))
	}
}

func (m *Manager) startQuorumDataRecovery(q *quorum.Quorum, block *types.Block, mask wire.DataMask) {
	if !q.TryStartRecovery() {
		m.logger.Debug("data recovery already running", zap.Stringer("quorumHash", q.QuorumHash()))
		return
	}
	m.metrics.RecoveryRunning.Inc()

	err := m.pool.Submit(func(ctx context.Context) {
		defer m.finishRecovery(q)

		outcome := m.recoverQuorumData(ctx, q, block, mask)
		m.metrics.RecoveryOutcomes.WithLabelValues(q.LLMQType().String(), outcome).Inc()
	})
	if err != nil {
		m.logger.Warn("data recovery not started", zap.Stringer("quorumHash", q.QuorumHash()), zap.Error(err))
		m.finishRecovery(q)
	}
}

func (m *Manager) finishRecovery(q *quorum.Quorum) {
	m.metrics.RecoveryRunning.Dec()
	q.FinishRecovery()
}

// recoverQuorumData asks the valid members of q one after another for the data in mask until it
// is complete or every member was tried.
func (m *Manager) recoverQuorumData(ctx context.Context, q *quorum.Quorum, block *types.Block, mask wire.DataMask) string {
	logger := m.logger.With(zap.String("llmqType", q.Params().Name), zap.Stringer("quorumHash", q.QuorumHash()))
	timeout := m.cfg.RecoveryRequestTimeout

	for !m.sync.IsBlockchainSynced() {
		if err := workers.Sleep(ctx, m.clock, timeout); err != nil {
			logger.Debug("data recovery aborted while waiting for sync")
			return recoveryAborted
		}
	}

	self := m.cfg.ProTxHash
	var candidates []types.Hash
	for _, mn := range q.Members() {
		if q.IsValidMember(mn.ProTxHash) && mn.ProTxHash != self {
			candidates = append(candidates, mn.ProTxHash)
		}
	}
	types.SortHashes(candidates)

	offset := m.GetQuorumRecoveryStartOffset(q, block)
	logger.Debug("data recovery started", zap.Stringer("mask", mask), zap.Int("candidates", len(candidates)), zap.Int("offset", offset))

	var (
		tries       int
		lastSuccess time.Time
		current     types.Hash
		hasCurrent  bool
	)
	for mask != 0 {
		if ctx.Err() != nil {
			return recoveryAborted
		}

		if mask.Has(wire.VerificationVector) && q.HasVerificationVector() {
			mask &^= wire.VerificationVector
			logger.Debug("received verification vector")
		}
		if mask.Has(wire.EncryptedContributions) && q.SecretKeyShare().IsValid() {
			mask &^= wire.EncryptedContributions
			logger.Debug("received secret key share")
		}
		if mask == 0 {
			break
		}

		if m.clock.Since(lastSuccess) > timeout {
			if tries >= len(candidates) {
				logger.Debug("data recovery exhausted all members", zap.Int("tries", tries))
				return recoveryExhausted
			}
			current = candidates[(offset+tries)%len(candidates)]
			hasCurrent = true
			tries++

			key := requests.Key{ProTxHash: current, Outgoing: true, QuorumHash: q.QuorumHash(), LLMQType: q.LLMQType()}
			if req, ok := m.registry.Get(key); ok && !req.IsExpired(m.clock.Now()) {
				logger.Debug("already asked member", zap.Stringer("member", current))
				continue
			}

			if err := workers.Sleep(ctx, m.clock, time.Duration(offset)*m.cfg.RecoveryStagger); err != nil {
				return recoveryAborted
			}
			lastSuccess = m.clock.Now()
			m.peers.AddPendingMasternode(current)
			logger.Debug("connecting to member", zap.Stringer("member", current))
		}

		if hasCurrent {
			var targets []Peer
			m.peers.ForEachPeer(func(p Peer) {
				if p.VerifiedProTxHash() == current {
					targets = append(targets, p)
				}
			})

			for _, p := range targets {
				if m.RequestQuorumData(p, q.LLMQType(), q.BaseBlock(), mask, self) {
					lastSuccess = m.clock.Now()
					logger.Debug("requested quorum data", zap.Int64("peer", p.ID()))
					continue
				}

				key := requests.Key{ProTxHash: current, Outgoing: true, QuorumHash: q.QuorumHash(), LLMQType: q.LLMQType()}
				req, ok := m.registry.Get(key)
				if !ok {
					logger.Debug("failed to request quorum data", zap.Int64("peer", p.ID()))
					m.peers.Disconnect(p)
					hasCurrent = false
					break
				}
				if req.Processed {
					logger.Debug("member answered without completing the data", zap.Int64("peer", p.ID()), zap.Stringer("error", req.Error))
					m.peers.Disconnect(p)
					hasCurrent = false
					break
				}
				logger.Debug("waiting for response", zap.Int64("peer", p.ID()))
			}
		}

		if err := workers.Sleep(ctx, m.clock, m.cfg.RecoveryPollInterval); err != nil {
			return recoveryAborted
		}
	}

	logger.Debug("data recovery finished")
	return recoverySuccess
}
