package quorums

import (
	"context"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/qubic/go-llmq/crypto"
	"github.com/qubic/go-llmq/quorum/quorumtest"
	"github.com/qubic/go-llmq/store"
	"github.com/qubic/go-llmq/types"
	"github.com/qubic/go-llmq/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type fakePeer struct {
	id        int64
	version   int32
	proTxHash types.Hash
	watch     bool
}

func (p *fakePeer) ID() int64                     { return p.id }
func (p *fakePeer) Version() int32                { return p.version }
func (p *fakePeer) VerifiedProTxHash() types.Hash { return p.proTxHash }
func (p *fakePeer) IsWatch() bool                 { return p.watch }

func masternodePeer(id int64, proTxHash types.Hash) *fakePeer {
	return &fakePeer{id: id, version: wire.LLMQDataMessagesVersion, proTxHash: proTxHash}
}

type commitmentKey struct {
	llmqType types.LLMQType
	hash     types.Hash
}

// fakeChain serves blocks, commitments, member lists and DKG results from fixtures.
type fakeChain struct {
	blocks      map[types.Hash]*types.Block
	tip         *types.Block
	commitments map[commitmentKey]*types.FinalCommitment
	indexed     map[types.LLMQType][]*types.Block
	legacy      map[types.LLMQType][]*types.Block
	fixtures    map[types.Hash]*quorumtest.Fixture
	validMNs    []types.Masternode
	disabled    map[types.LLMQType]bool
	rotation    map[types.LLMQType]bool

	// dkg side, local to one node
	mu            sync.Mutex
	self          types.Hash
	dkgMissing    bool
	verifiedCalls int
	synced        *atomic.Bool
}

func newFakeChain(height int32) *fakeChain {
	c := &fakeChain{
		blocks:      make(map[types.Hash]*types.Block),
		commitments: make(map[commitmentKey]*types.FinalCommitment),
		indexed:     make(map[types.LLMQType][]*types.Block),
		legacy:      make(map[types.LLMQType][]*types.Block),
		fixtures:    make(map[types.Hash]*quorumtest.Fixture),
		disabled:    make(map[types.LLMQType]bool),
		rotation:    make(map[types.LLMQType]bool),
		synced:      atomic.NewBool(true),
	}

	var prev *types.Block
	for h := int32(0); h <= height; h++ {
		b := &types.Block{Hash: blockHash(h), Height: h, Prev: prev}
		c.blocks[b.Hash] = b
		prev = b
	}
	c.tip = prev
	return c
}

func blockHash(height int32) types.Hash {
	return types.Hash{0xb1, byte(height >> 8), byte(height)}
}

// forNode shares the chain with a node that has its own DKG view.
func (c *fakeChain) forNode(self types.Hash, dkgMissing bool) *fakeChain {
	return &fakeChain{
		blocks:      c.blocks,
		tip:         c.tip,
		commitments: c.commitments,
		indexed:     c.indexed,
		legacy:      c.legacy,
		fixtures:    c.fixtures,
		validMNs:    c.validMNs,
		disabled:    c.disabled,
		rotation:    c.rotation,
		self:        self,
		dkgMissing:  dkgMissing,
		synced:      c.synced,
	}
}

func (c *fakeChain) addQuorum(t *testing.T, params types.Params, height int32, valid []bool, legacy bool) *quorumtest.Fixture {
	t.Helper()

	block := c.tip.Ancestor(height)
	require.NotNil(t, block)

	if valid == nil {
		valid = make([]bool, params.Size)
		for i := range valid {
			valid[i] = true
		}
	}
	fx, err := quorumtest.NewWithValidMembers(params, block, valid)
	require.NoError(t, err)

	c.commitments[commitmentKey{params.Type, block.Hash}] = fx.Commitment
	c.fixtures[block.Hash] = fx

	list := c.indexed
	if legacy {
		list = c.legacy
	}
	// newest first
	blocks := append([]*types.Block{block}, list[params.Type]...)
	for i := 1; i < len(blocks) && blocks[i-1].Height < blocks[i].Height; i++ {
		blocks[i-1], blocks[i] = blocks[i], blocks[i-1]
	}
	list[params.Type] = blocks

	return fx
}

func (c *fakeChain) LookupBlock(hash types.Hash) *types.Block { return c.blocks[hash] }
func (c *fakeChain) Tip() *types.Block                        { return c.tip }

func (c *fakeChain) GetMinedCommitment(llmqType types.LLMQType, quorumHash types.Hash) (*types.FinalCommitment, types.Hash, bool) {
	qc, ok := c.commitments[commitmentKey{llmqType, quorumHash}]
	if !ok {
		return nil, types.Hash{}, false
	}
	return qc, types.Hash{0xee, quorumHash[1], quorumHash[2]}, true
}

func (c *fakeChain) HasMinedCommitment(llmqType types.LLMQType, quorumHash types.Hash) bool {
	_, ok := c.commitments[commitmentKey{llmqType, quorumHash}]
	return ok
}

func (c *fakeChain) GetMinedCommitmentsIndexedUntilBlock(llmqType types.LLMQType, block *types.Block, count int) []*types.Block {
	return takeUntil(c.indexed[llmqType], block, count)
}

func (c *fakeChain) GetMinedCommitmentsUntilBlock(llmqType types.LLMQType, block *types.Block, count int) []*types.Block {
	return takeUntil(c.legacy[llmqType], block, count)
}

func takeUntil(blocks []*types.Block, until *types.Block, count int) []*types.Block {
	var out []*types.Block
	for _, b := range blocks {
		if len(out) == count {
			break
		}
		if b.Height <= until.Height {
			out = append(out, b)
		}
	}
	return out
}

func (c *fakeChain) GetAllQuorumMembers(_ types.LLMQType, baseBlock *types.Block) []types.Masternode {
	fx, ok := c.fixtures[baseBlock.Hash]
	if !ok {
		return nil
	}
	return fx.Members
}

func (c *fakeChain) GetValidMasternodes(*types.Block) []types.Masternode { return c.validMNs }

func (c *fakeChain) IsQuorumTypeEnabled(llmqType types.LLMQType, _ *types.Block) bool {
	return !c.disabled[llmqType]
}

func (c *fakeChain) IsQuorumRotationEnabled(llmqType types.LLMQType, _ *types.Block) bool {
	return c.rotation[llmqType]
}

func (c *fakeChain) IsBlockchainSynced() bool { return c.synced.Load() }

func (c *fakeChain) GetVerifiedContributions(_ types.LLMQType, baseBlock *types.Block, _ []bool) ([]int, []crypto.VerificationVector, []crypto.SecretKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifiedCalls++

	fx, ok := c.fixtures[baseBlock.Hash]
	if !ok || c.dkgMissing {
		return nil, nil, nil, false
	}
	idx := memberIndex(fx, c.self)
	if idx < 0 {
		// a non-member still sees the dealers' verification vectors
		idx = 0
	}
	indexes, vvecs, shares := fx.VerifiedContributions(idx)
	return indexes, vvecs, shares, true
}

func (c *fakeChain) GetEncryptedContributions(_ types.LLMQType, baseBlock *types.Block, _ []bool, proTxHash types.Hash) ([]crypto.EncryptedSecretKey, bool) {
	fx, ok := c.fixtures[baseBlock.Hash]
	if !ok || c.dkgMissing {
		return nil, false
	}
	idx := memberIndex(fx, proTxHash)
	if idx < 0 {
		return nil, false
	}
	enc, err := fx.EncryptedContributions(idx)
	if err != nil {
		return nil, false
	}
	return enc, true
}

func (c *fakeChain) VerifiedCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifiedCalls
}

func memberIndex(fx *quorumtest.Fixture, proTxHash types.Hash) int {
	for i, mn := range fx.Members {
		if mn.ProTxHash == proTxHash {
			return i
		}
	}
	return -1
}

type pushedMessage struct {
	peer    Peer
	command string
	payload []byte
}

type fakePeers struct {
	mu           sync.Mutex
	peers        []Peer
	nodes        map[commitmentKey][]types.Hash
	relays       map[commitmentKey][]types.Hash
	removed      []types.Hash
	pending      []types.Hash
	pushed       []pushedMessage
	penalties    map[int64]int
	disconnected []int64
	onPush       func(peer Peer, command string, payload []byte)
}

func newFakePeers(peers ...Peer) *fakePeers {
	return &fakePeers{
		peers:     peers,
		nodes:     make(map[commitmentKey][]types.Hash),
		relays:    make(map[commitmentKey][]types.Hash),
		penalties: make(map[int64]int),
	}
}

func (p *fakePeers) GetMasternodeQuorums(llmqType types.LLMQType) []types.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Hash
	for k := range p.nodes {
		if k.llmqType == llmqType {
			out = append(out, k.hash)
		}
	}
	return out
}

func (p *fakePeers) HasMasternodeQuorumNodes(llmqType types.LLMQType, quorumHash types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.nodes[commitmentKey{llmqType, quorumHash}]
	return ok
}

func (p *fakePeers) SetMasternodeQuorumNodes(llmqType types.LLMQType, quorumHash types.Hash, proTxHashes []types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes[commitmentKey{llmqType, quorumHash}] = proTxHashes
}

func (p *fakePeers) SetMasternodeQuorumRelayMembers(llmqType types.LLMQType, quorumHash types.Hash, proTxHashes []types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.relays[commitmentKey{llmqType, quorumHash}] = proTxHashes
}

func (p *fakePeers) RemoveMasternodeQuorumNodes(llmqType types.LLMQType, quorumHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, commitmentKey{llmqType, quorumHash})
	delete(p.relays, commitmentKey{llmqType, quorumHash})
	p.removed = append(p.removed, quorumHash)
}

func (p *fakePeers) AddPendingMasternode(proTxHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, proTxHash)
}

func (p *fakePeers) ForEachPeer(fn func(Peer)) {
	p.mu.Lock()
	peers := append([]Peer(nil), p.peers...)
	p.mu.Unlock()
	for _, peer := range peers {
		fn(peer)
	}
}

func (p *fakePeers) PushMessage(peer Peer, command string, payload []byte) {
	p.mu.Lock()
	p.pushed = append(p.pushed, pushedMessage{peer: peer, command: command, payload: payload})
	hook := p.onPush
	p.mu.Unlock()

	if hook != nil {
		hook(peer, command, payload)
	}
}

func (p *fakePeers) Misbehaving(peer Peer, score int, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.penalties[peer.ID()] += score
}

func (p *fakePeers) Disconnect(peer Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, peer.ID())
}

func (p *fakePeers) Penalty(id int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.penalties[id]
}

func (p *fakePeers) Pushed() []pushedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushedMessage(nil), p.pushed...)
}

func (p *fakePeers) Pending() []types.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Hash(nil), p.pending...)
}

func (p *fakePeers) Nodes(llmqType types.LLMQType, quorumHash types.Hash) ([]types.Hash, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes, ok := p.nodes[commitmentKey{llmqType, quorumHash}]
	return nodes, ok
}

// lastQData decodes the most recent qdata sent to peers.
func (p *fakePeers) lastQData(t *testing.T) wire.QData {
	t.Helper()
	pushed := p.Pushed()
	require.NotEmpty(t, pushed)
	last := pushed[len(pushed)-1]
	require.Equal(t, wire.CmdQData, last.command)
	d, err := wire.UnmarshalQData(last.payload)
	require.NoError(t, err)
	return d
}

func newMemStore(t *testing.T) *store.ContributionStore {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	s := store.NewContributionStore(db, zap.NewNop())
	t.Cleanup(func() { s.Close() })
	return s
}

func testNetwork(llmqs ...types.LLMQType) types.NetworkParams {
	np := types.RegTestNetwork()
	if len(llmqs) == 0 {
		return np
	}
	var filtered []types.Params
	for _, t := range llmqs {
		if p, ok := np.GetLLMQ(t); ok {
			filtered = append(filtered, p)
		}
	}
	np.LLMQs = filtered
	return np
}

// countingDB counts the contribution writes that reach the store.
type countingDB struct {
	*store.ContributionStore
	writes atomic.Int32
}

func (d *countingDB) WriteContributions(quorumKey types.Hash, vvec, skShare []byte) error {
	d.writes.Inc()
	return d.ContributionStore.WriteContributions(quorumKey, vvec, skShare)
}

type testNode struct {
	m     *Manager
	chain *fakeChain
	peers *fakePeers
	db    *countingDB
	reg   *prometheus.Registry
}

func newTestNode(t *testing.T, cfg Config, np types.NetworkParams, chain *fakeChain, peers *fakePeers, db *store.ContributionStore) *testNode {
	t.Helper()
	return newTestNodeWithClock(t, cfg, np, chain, peers, db, nil)
}

// newTestNodeWithClock uses the real clock when clk is nil.
func newTestNodeWithClock(t *testing.T, cfg Config, np types.NetworkParams, chain *fakeChain, peers *fakePeers, db *store.ContributionStore, clk clock.Clock) *testNode {
	t.Helper()
	if db == nil {
		db = newMemStore(t)
	}
	counted := &countingDB{ContributionStore: db}
	reg := prometheus.NewRegistry()
	m, err := NewManager(cfg, Deps{
		Network:     np,
		Blocks:      chain,
		Commitments: chain,
		DKG:         chain,
		Masternodes: chain,
		Chain:       chain,
		Sync:        chain,
		Peers:       peers,
		Worker:      crypto.NewWorker(),
		DB:          counted,
		Clock:       clk,
		Logger:      zap.NewNop(),
		Registerer:  reg,
	})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return &testNode{m: m, chain: chain, peers: peers, db: counted, reg: reg}
}

func (n *testNode) start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	n.m.Start(ctx)
}

func testConfig(self types.Hash) Config {
	cfg := DefaultConfig()
	cfg.MasternodeMode = true
	cfg.ProTxHash = self
	cfg.Workers = 2
	return cfg
}
