package quorums

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/crypto"
	"github.com/qubic/go-llmq/requests"
	"github.com/qubic/go-llmq/wire"
	"go.uber.org/zap"
)

// MisbehaviorError rejects a message. A zero Score drops the message without penalising the peer.
type MisbehaviorError struct {
	Reason string
	Score  int
}

func (e *MisbehaviorError) Error() string {
	return fmt.Sprintf("%s (score %d)", e.Reason, e.Score)
}

func misbehaving(score int, format string, args ...interface{}) error {
	return &MisbehaviorError{Reason: fmt.Sprintf(format, args...), Score: score}
}

// ProcessMessage handles qgetdata and qdata messages. Other commands are ignored.
func (m *Manager) ProcessMessage(peer Peer, command string, payload []byte) {
	var err error
	switch command {
	case wire.CmdQGetData:
		err = m.processQGetData(peer, payload)
	case wire.CmdQData:
		err = m.processQData(peer, payload)
	default:
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "rejected"

		var peerID int64 = -1
		if peer != nil {
			peerID = peer.ID()
		}

		var mErr *MisbehaviorError
		if !errors.As(err, &mErr) {
			outcome = "failed"
			m.logger.Warn("processing message", zap.String("command", command), zap.Int64("peer", peerID), zap.Error(err))
		} else {
			m.logger.Debug("message rejected", zap.String("command", command), zap.Int64("peer", peerID),
				zap.String("reason", mErr.Reason), zap.Int("score", mErr.Score))
			if mErr.Score > 0 && peer != nil {
				m.peers.Misbehaving(peer, mErr.Score, mErr.Reason)
				m.metrics.PeerPenalties.WithLabelValues(command).Add(float64(mErr.Score))
			}
		}
	}
	m.metrics.MessagesProcessed.WithLabelValues(command, outcome).Inc()
}

func (m *Manager) processQGetData(peer Peer, payload []byte) error {
	if !m.cfg.MasternodeMode || peer == nil || (peer.VerifiedProTxHash().IsNull() && !peer.IsWatch()) {
		return misbehaving(10, "not a verified masternode or a qwatch connection")
	}

	req, err := wire.UnmarshalQGetData(payload)
	if err != nil {
		return misbehaving(10, "malformed qgetdata: %v", err)
	}

	key := requests.NewKey(peer.VerifiedProTxHash(), false, req)
	if !m.registry.TryAdd(key, req) {
		return misbehaving(25, "request limit exceeded")
	}

	resp := wire.QData{Request: req}
	reply := func(code wire.ErrorCode) error {
		resp.Error = code
		resp.Request.Error = code
		if code != wire.ErrNone {
			resp.VerificationVector = nil
			resp.EncryptedContributions = nil
			m.logger.Debug("answering qgetdata with error", zap.Int64("peer", peer.ID()), zap.Stringer("error", code))
		}
		m.peers.PushMessage(peer, wire.CmdQData, wire.MarshalQData(resp))
		return nil
	}

	if !m.network.HasLLMQ(req.LLMQType) {
		return reply(wire.ErrQuorumTypeInvalid)
	}

	block := m.blocks.LookupBlock(req.QuorumHash)
	if block == nil {
		return reply(wire.ErrQuorumBlockNotFound)
	}

	q := m.GetQuorum(req.LLMQType, block)
	if q == nil {
		return reply(wire.ErrQuorumNotFound)
	}

	if req.DataMask.Has(wire.VerificationVector) {
		vvec := q.VerificationVector()
		if vvec == nil {
			return reply(wire.ErrQuorumVerificationVectorMissing)
		}
		resp.VerificationVector = vvec
	}

	if req.DataMask.Has(wire.EncryptedContributions) {
		if q.MemberIndex(req.ProTxHash) == -1 {
			return reply(wire.ErrMasternodeIsNoMember)
		}
		enc, ok := m.dkg.GetEncryptedContributions(req.LLMQType, block, q.Commitment().ValidMembers, req.ProTxHash)
		if !ok {
			return reply(wire.ErrEncryptedContributionsMissing)
		}
		resp.EncryptedContributions = enc
	}

	return reply(wire.ErrNone)
}

func (m *Manager) processQData(peer Peer, payload []byte) error {
	if (!m.cfg.MasternodeMode && !m.cfg.WatchQuorums) || peer == nil || (peer.VerifiedProTxHash().IsNull() && !peer.IsWatch()) {
		return misbehaving(10, "not a verified masternode or a qwatch connection")
	}

	data, err := wire.UnmarshalQData(payload)
	if err != nil {
		return misbehaving(10, "malformed qdata: %v", err)
	}
	req := data.Request

	key := requests.NewKey(peer.VerifiedProTxHash(), true, req)
	switch status := m.registry.ProcessResponse(key, req); status {
	case requests.NotRequested, requests.Mismatch:
		return misbehaving(10, "%s", status)
	case requests.AlreadyProcessed:
		return misbehaving(0, "%s", status)
	}

	if data.Error != wire.ErrNone {
		return misbehaving(0, "error %s", data.Error)
	}

	q, ok := m.cache.Get(req.LLMQType, req.QuorumHash)
	if !ok {
		return misbehaving(0, "quorum not found")
	}

	if req.DataMask.Has(wire.VerificationVector) {
		if !q.SetVerificationVector(data.VerificationVector) {
			return misbehaving(10, "invalid quorum verification vector")
		}
		m.startCachePopulator(q)
	}

	if req.DataMask.Has(wire.EncryptedContributions) {
		if len(q.VerificationVector()) != q.Params().Threshold {
			return misbehaving(0, "no valid quorum verification vector available")
		}

		memberIdx := q.MemberIndex(req.ProTxHash)
		if memberIdx == -1 {
			return misbehaving(0, "not a member of the quorum")
		}
		if m.cfg.EncryptionKey == nil {
			return misbehaving(0, "no encryption key to open contributions")
		}

		contributions := make([]crypto.SecretKey, 0, len(data.EncryptedContributions))
		for _, enc := range data.EncryptedContributions {
			sk, err := enc.Decrypt(memberIdx, m.cfg.EncryptionKey)
			if err != nil {
				return misbehaving(10, "failed to decrypt")
			}
			contributions = append(contributions, sk)
		}

		sk, err := m.worker.AggregateSecretKeys(contributions)
		if err != nil || !q.SetSecretKeyShare(sk, m.cfg.ProTxHash) {
			return misbehaving(10, "invalid secret key share received")
		}
	}

	if err := q.WriteContributions(m.db); err != nil {
		return errors.Wrap(err, "writing contributions")
	}
	return nil
}
