package quorums

import (
	"encoding/binary"
	"slices"

	"github.com/qubic/go-llmq/types"
	"github.com/qubic/go-llmq/utils"
	"go.uber.org/zap"
)

// DeterministicOutboundConnection picks which of two masternodes opens the connection between them.
// Both sides compute the same answer.
func DeterministicOutboundConnection(proTxHash1, proTxHash2 types.Hash) types.Hash {
	lo, hi := proTxHash1, proTxHash2
	if hi.Less(lo) {
		lo, hi = hi, lo
	}
	h1 := utils.NewHashWriter("llmq/outbound").WriteHash(lo).WriteHash(hi).WriteHash(proTxHash1).MustSum()
	h2 := utils.NewHashWriter("llmq/outbound").WriteHash(lo).WriteHash(hi).WriteHash(proTxHash2).MustSum()
	if h1.Less(h2) {
		return proTxHash1
	}
	return proTxHash2
}

// GetQuorumConnections returns the members forMember connects to. With all members connected
// that is every other member, restricted to those it dials itself when onlyOutbound is set.
// Otherwise it falls back to the relay topology.
func GetQuorumConnections(members []types.Masternode, forMember types.Hash, onlyOutbound, allMembersConnected bool) []types.Hash {
	if !allMembersConnected {
		return GetQuorumRelayMembers(members, forMember, onlyOutbound, allMembersConnected)
	}

	set := make(map[types.Hash]struct{})
	for _, mn := range members {
		if mn.ProTxHash == forMember {
			continue
		}
		if !onlyOutbound || DeterministicOutboundConnection(forMember, mn.ProTxHash) == mn.ProTxHash {
			set[mn.ProTxHash] = struct{}{}
		}
	}
	return sortedHashes(set)
}

// GetQuorumRelayMembers returns the members forMember relays quorum messages to. Without all
// members connected members form a ring where member i links to the members at distance 2^k.
func GetQuorumRelayMembers(members []types.Masternode, forMember types.Hash, onlyOutbound, allMembersConnected bool) []types.Hash {
	set := make(map[types.Hash]struct{})

	if allMembersConnected {
		for _, mn := range members {
			if mn.ProTxHash.Less(forMember) {
				set[mn.ProTxHash] = struct{}{}
			}
		}
		return sortedHashes(set)
	}

	outbound := func(i int, proTxHash types.Hash) map[types.Hash]struct{} {
		r := make(map[types.Hash]struct{})
		n := len(members)
		if n <= 1 {
			return r
		}
		gap, gapMax, k := 1, n-1, 0
		for {
			gapMax >>= 1
			if gapMax == 0 && k > 1 {
				break
			}
			idx := (i + gap) % n
			gap <<= 1
			k++
			if members[idx].ProTxHash == proTxHash {
				continue
			}
			r[members[idx].ProTxHash] = struct{}{}
		}
		return r
	}

	for i, mn := range members {
		if mn.ProTxHash == forMember {
			for h := range outbound(i, mn.ProTxHash) {
				set[h] = struct{}{}
			}
		} else if !onlyOutbound {
			if _, ok := outbound(i, mn.ProTxHash)[forMember]; ok {
				set[mn.ProTxHash] = struct{}{}
			}
		}
	}
	return sortedHashes(set)
}

// CalcDeterministicWatchConnections picks up to connectionCount member indexes a non-member
// watches. seed keeps the choice different between nodes.
func CalcDeterministicWatchConnections(seed types.Hash, llmqType types.LLMQType, baseBlockHash types.Hash, memberCount, connectionCount int) []int {
	if memberCount <= 0 {
		return nil
	}

	set := make(map[int]struct{})
	rnd := seed
	for i := 0; i < connectionCount; i++ {
		rnd = utils.NewHashWriter("llmq/watch").WriteHash(rnd).WriteUint8(uint8(llmqType)).WriteHash(baseBlockHash).MustSum()
		set[int(binary.LittleEndian.Uint64(rnd[:8])%uint64(memberCount))] = struct{}{}
	}

	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

func (m *Manager) watchConnections(llmqType types.LLMQType, baseBlock *types.Block, members []types.Masternode) []types.Hash {
	idxs := CalcDeterministicWatchConnections(m.watchSeed, llmqType, baseBlock.Hash, len(members), 1)
	out := make([]types.Hash, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, members[idx].ProTxHash)
	}
	return out
}

// ensureQuorumConnections registers the connections this node keeps for the quorum based on
// baseBlock. It returns false when the node has no business connecting to the quorum.
func (m *Manager) ensureQuorumConnections(params types.Params, baseBlock *types.Block) bool {
	if !m.cfg.MasternodeMode && !m.cfg.WatchQuorums {
		return false
	}

	members := m.masternodes.GetAllQuorumMembers(params.Type, baseBlock)
	if len(members) == 0 {
		return false
	}

	isMember := false
	for _, mn := range members {
		if mn.ProTxHash == m.cfg.ProTxHash {
			isMember = true
			break
		}
	}
	if !isMember && !m.cfg.WatchQuorums {
		return false
	}

	var connections, relayMembers []types.Hash
	if isMember {
		connections = GetQuorumConnections(members, m.cfg.ProTxHash, true, m.cfg.AllMembersConnected)
		relayMembers = GetQuorumRelayMembers(members, m.cfg.ProTxHash, true, m.cfg.AllMembersConnected)
	} else {
		connections = m.watchConnections(params.Type, baseBlock, members)
		relayMembers = connections
	}

	if len(connections) > 0 {
		if !m.peers.HasMasternodeQuorumNodes(params.Type, baseBlock.Hash) {
			m.logger.Debug("adding masternode quorum connections", zap.String("llmqType", params.Name),
				zap.Stringer("quorumHash", baseBlock.Hash), zap.Int("connections", len(connections)))
		}
		m.peers.SetMasternodeQuorumNodes(params.Type, baseBlock.Hash, connections)
	}
	if len(relayMembers) > 0 {
		m.peers.SetMasternodeQuorumRelayMembers(params.Type, baseBlock.Hash, relayMembers)
	}
	return true
}

// CheckQuorumConnections reconciles the connection sets of one quorum type at tip. Quorums of
// the current DKG cycle keep their connections even before they are mined.
func (m *Manager) CheckQuorumConnections(params types.Params, tip *types.Block) {
	if tip == nil {
		return
	}

	lastQuorums := m.ScanQuorums(params.Type, tip, params.KeepOldConnections)

	toDelete := make(map[types.Hash]struct{})
	for _, h := range m.peers.GetMasternodeQuorums(params.Type) {
		toDelete[h] = struct{}{}
	}

	interval := int32(max(params.DKGInterval, 1))
	if m.chain.IsQuorumRotationEnabled(params.Type, tip) {
		cycleIndex := tip.Height % interval
		cycleBase := tip.Height - cycleIndex
		for quorumIndex := int32(0); quorumIndex < int32(params.SigningActiveQuorumCount); quorumIndex++ {
			if quorumIndex > cycleIndex {
				continue
			}
			if b := tip.Ancestor(cycleBase + quorumIndex); b != nil {
				delete(toDelete, b.Hash)
			}
		}
	} else if b := tip.Ancestor(tip.Height - tip.Height%interval); b != nil {
		delete(toDelete, b.Hash)
	}

	self := m.cfg.ProTxHash
	watchOtherISQuorums := false
	if m.network.IsInstantSendType(params.Type) && !self.IsNull() {
		for _, q := range lastQuorums {
			if q.IsMember(self) {
				watchOtherISQuorums = true
				break
			}
		}
	}

	for _, q := range lastQuorums {
		if m.ensureQuorumConnections(params, q.BaseBlock()) {
			delete(toDelete, q.QuorumHash())
			continue
		}
		if !watchOtherISQuorums || q.IsMember(self) {
			continue
		}

		connections := m.watchConnections(params.Type, q.BaseBlock(), q.Members())
		if len(connections) == 0 {
			continue
		}
		if !m.peers.HasMasternodeQuorumNodes(params.Type, q.QuorumHash()) {
			m.logger.Debug("adding instant send watch connections", zap.String("llmqType", params.Name),
				zap.Stringer("quorumHash", q.QuorumHash()))
			m.peers.SetMasternodeQuorumNodes(params.Type, q.QuorumHash(), connections)
			m.peers.SetMasternodeQuorumRelayMembers(params.Type, q.QuorumHash(), connections)
		}
		delete(toDelete, q.QuorumHash())
	}

	for _, h := range sortedHashes(toDelete) {
		m.logger.Debug("removing masternode quorum connections", zap.String("llmqType", params.Name), zap.Stringer("quorumHash", h))
		m.peers.RemoveMasternodeQuorumNodes(params.Type, h)
	}
}

func sortedHashes(set map[types.Hash]struct{}) []types.Hash {
	out := make([]types.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	types.SortHashes(out)
	return out
}
