package quorums

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/qubic/go-llmq/cache"
	"github.com/qubic/go-llmq/metrics"
	"github.com/qubic/go-llmq/quorum"
	"github.com/qubic/go-llmq/requests"
	"github.com/qubic/go-llmq/types"
	"github.com/qubic/go-llmq/workers"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Deps are the collaborators the manager is built on. Clock, Logger and Registerer are optional.
type Deps struct {
	Network     types.NetworkParams
	Blocks      BlockIndex
	Commitments CommitmentStore
	DKG         DKGManager
	Masternodes MasternodeList
	Chain       ChainState
	Sync        SyncChecker
	Peers       PeerManager
	Worker      BLSWorker
	DB          quorum.ContributionDB

	Clock      clock.Clock
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Manager turns mined commitments into usable quorums, serves and requests their crypto material
// and keeps the masternode connections quorums need.
type Manager struct {
	cfg Config

	network     types.NetworkParams
	blocks      BlockIndex
	commitments CommitmentStore
	dkg         DKGManager
	masternodes MasternodeList
	chain       ChainState
	sync        SyncChecker
	peers       PeerManager
	worker      BLSWorker
	db          quorum.ContributionDB

	cache    *cache.Cache
	registry *requests.Registry
	pool     *workers.Pool
	builds   singleflight.Group

	// watchSeed makes the choice of watch connections differ between nodes.
	watchSeed types.Hash

	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Blocks == nil || deps.Commitments == nil || deps.DKG == nil || deps.Masternodes == nil ||
		deps.Chain == nil || deps.Sync == nil || deps.Peers == nil || deps.Worker == nil || deps.DB == nil {
		return nil, errors.New("missing quorum manager dependency")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.QvvecSync == nil {
		cfg.QvvecSync = map[types.LLMQType]QvvecSyncMode{}
	}

	c, err := cache.New(deps.Network.LLMQs)
	if err != nil {
		return nil, errors.Wrap(err, "creating quorum cache")
	}

	var seed types.Hash
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, errors.Wrap(err, "generating watch connection seed")
	}

	logger := deps.Logger.Named("quorums")

	return &Manager{
		cfg:         cfg,
		network:     deps.Network,
		blocks:      deps.Blocks,
		commitments: deps.Commitments,
		dkg:         deps.DKG,
		masternodes: deps.Masternodes,
		chain:       deps.Chain,
		sync:        deps.Sync,
		peers:       deps.Peers,
		worker:      deps.Worker,
		db:          deps.DB,
		cache:       c,
		registry:    requests.NewRegistry(deps.Clock),
		pool:        workers.NewPool(cfg.Workers, logger),
		watchSeed:   seed,
		clock:       deps.Clock,
		logger:      logger,
		metrics:     metrics.New(deps.Registerer),
	}, nil
}

func (m *Manager) Start(ctx context.Context) {
	m.pool.Start(ctx)
}

// Stop interrupts background tasks and waits for them to return.
func (m *Manager) Stop() {
	m.pool.Stop()
}

func (m *Manager) HasQuorum(llmqType types.LLMQType, quorumHash types.Hash) bool {
	return m.commitments.HasMinedCommitment(llmqType, quorumHash)
}

func (m *Manager) GetQuorumByHash(llmqType types.LLMQType, quorumHash types.Hash) *quorum.Quorum {
	block := m.blocks.LookupBlock(quorumHash)
	if block == nil {
		m.logger.Debug("block not found", zap.Stringer("quorumHash", quorumHash))
		return nil
	}
	return m.GetQuorum(llmqType, block)
}

// GetQuorum returns nil when there is no mined commitment for the quorum on the active chain.
func (m *Manager) GetQuorum(llmqType types.LLMQType, baseBlock *types.Block) *quorum.Quorum {
	if baseBlock == nil {
		return nil
	}

	// reorgs may have left quorums in the cache that are not on the active chain anymore
	if !m.HasQuorum(llmqType, baseBlock.Hash) {
		return nil
	}

	if q, ok := m.cache.Get(llmqType, baseBlock.Hash); ok {
		m.metrics.CacheHits.WithLabelValues(llmqType.String()).Inc()
		return q
	}
	m.metrics.CacheMisses.WithLabelValues(llmqType.String()).Inc()

	key := fmt.Sprintf("%d/%s", llmqType, baseBlock.Hash)
	v, _, _ := m.builds.Do(key, func() (interface{}, error) {
		if q, ok := m.cache.Get(llmqType, baseBlock.Hash); ok {
			return q, nil
		}
		return m.buildQuorumFromCommitment(llmqType, baseBlock), nil
	})

	q, _ := v.(*quorum.Quorum)
	return q
}

func (m *Manager) buildQuorumFromCommitment(llmqType types.LLMQType, baseBlock *types.Block) *quorum.Quorum {
	logger := m.logger.With(zap.Uint8("llmqType", uint8(llmqType)), zap.Int32("height", baseBlock.Height), zap.Stringer("quorumHash", baseBlock.Hash))

	params, ok := m.network.GetLLMQ(llmqType)
	if !ok {
		logger.Debug("llmq type not enabled on this network")
		return nil
	}

	qc, minedBlockHash, ok := m.commitments.GetMinedCommitment(llmqType, baseBlock.Hash)
	if !ok {
		logger.Debug("no mined commitment")
		return nil
	}

	members := m.masternodes.GetAllQuorumMembers(llmqType, baseBlock)
	q := quorum.New(params, qc, baseBlock, minedBlockHash, members, m.worker)

	result := "commitment_only"
	restored, err := q.ReadContributions(m.db, m.cfg.ProTxHash)
	if err != nil {
		logger.Warn("reading contributions", zap.Error(err))
	}
	if restored {
		result = "restored"
	} else if m.buildQuorumContributions(q) {
		result = "built"
		if err := q.WriteContributions(m.db); err != nil {
			logger.Warn("writing contributions", zap.Error(err))
		}
	} else {
		logger.Debug("reading and building contributions failed", zap.Int16("quorumIndex", qc.QuorumIndex))
	}
	m.metrics.Builds.WithLabelValues(llmqType.String(), result).Inc()

	if result != "commitment_only" {
		m.startCachePopulator(q)
	}
	m.cache.Add(q)

	return q
}

// buildQuorumContributions fails only when no matching verification vector can be built. A
// missing secret key share leaves the quorum usable for verification.
func (m *Manager) buildQuorumContributions(q *quorum.Quorum) bool {
	qc := q.Commitment()
	logger := m.logger.With(zap.Uint8("llmqType", uint8(qc.LLMQType)), zap.Stringer("quorumHash", qc.QuorumHash))

	if valid := qc.CountValidMembers(); valid < q.Params().Threshold {
		logger.Debug("fewer valid members than the threshold", zap.Int("validMembers", valid))
		return false
	}

	_, vvecs, skContributions, ok := m.dkg.GetVerifiedContributions(qc.LLMQType, q.BaseBlock(), qc.ValidMembers)
	if !ok || len(vvecs) < q.Params().Threshold {
		logger.Debug("not enough verified contributions", zap.Int("contributions", len(vvecs)))
		return false
	}

	start := m.clock.Now()
	vvec, err := m.worker.BuildQuorumVerificationVector(vvecs)
	if err != nil {
		logger.Debug("failed to build quorum verification vector", zap.Error(err))
		return false
	}
	if !q.SetVerificationVector(vvec) {
		logger.Debug("built verification vector does not match commitment")
		return false
	}

	sk, err := m.worker.AggregateSecretKeys(skContributions)
	if err != nil {
		logger.Debug("failed to aggregate secret key share", zap.Error(err))
	} else if !q.SetSecretKeyShare(sk, m.cfg.ProTxHash) {
		logger.Debug("aggregated secret key share does not match our public key share")
	}

	logger.Debug("built quorum vvec and skShare", zap.Duration("took", m.clock.Since(start)))
	return true
}

func (m *Manager) ScanQuorumsAtTip(llmqType types.LLMQType, count int) []*quorum.Quorum {
	return m.ScanQuorums(llmqType, m.blocks.Tip(), count)
}

// ScanQuorums returns up to count of the most recent quorums mined at or before startBlock,
// newest first.
func (m *Manager) ScanQuorums(llmqType types.LLMQType, startBlock *types.Block, count int) []*quorum.Quorum {
	if startBlock == nil || count <= 0 || !m.chain.IsQuorumTypeEnabled(llmqType, startBlock) {
		return nil
	}

	if cached, ok := m.cache.GetScan(llmqType, startBlock.Hash); ok && len(cached) >= count {
		return m.resolveQuorums(llmqType, cached[:count])
	}

	baseBlocks := m.commitments.GetMinedCommitmentsIndexedUntilBlock(llmqType, startBlock, count)
	if len(baseBlocks) < count {
		scanFrom := startBlock
		remaining := count
		if len(baseBlocks) > 0 {
			remaining -= len(baseBlocks)
			if prev := baseBlocks[len(baseBlocks)-1].Prev; prev != nil {
				scanFrom = prev
			}
		}
		baseBlocks = append(baseBlocks, m.commitments.GetMinedCommitmentsUntilBlock(llmqType, scanFrom, remaining)...)
	}

	result := m.resolveQuorums(llmqType, baseBlocks)
	if len(result) > 0 {
		resolved := make([]*types.Block, 0, len(result))
		for _, q := range result {
			resolved = append(resolved, q.BaseBlock())
		}
		m.cache.AddScan(llmqType, startBlock.Hash, resolved)
	}
	if len(result) > count {
		result = result[:count]
	}
	return result
}

// resolveQuorums looks every base block up through GetQuorum, skipping those that no longer
// resolve to a mined quorum.
func (m *Manager) resolveQuorums(llmqType types.LLMQType, baseBlocks []*types.Block) []*quorum.Quorum {
	result := make([]*quorum.Quorum, 0, len(baseBlocks))
	for _, b := range baseBlocks {
		q := m.GetQuorum(llmqType, b)
		if q == nil {
			m.logger.Warn("scanned commitment did not resolve to a quorum", zap.Uint8("llmqType", uint8(llmqType)), zap.Stringer("quorumHash", b.Hash))
			continue
		}
		result = append(result, q)
	}
	return result
}
