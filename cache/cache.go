package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/quorum"
	"github.com/qubic/go-llmq/types"
)

// Cache keeps the most recently used quorums of every enabled LLMQ type, and the base blocks found
// by recent scans. Capacity per type is the type's KeepOldConnections.
type Cache struct {
	mu      sync.Mutex
	quorums map[types.LLMQType]*lru.Cache[types.Hash, *quorum.Quorum]
	scans   map[types.LLMQType]*lru.Cache[types.Hash, []*types.Block]
	sizes   map[types.LLMQType]int
}

func New(llmqs []types.Params) (*Cache, error) {
	c := Cache{
		quorums: make(map[types.LLMQType]*lru.Cache[types.Hash, *quorum.Quorum]),
		scans:   make(map[types.LLMQType]*lru.Cache[types.Hash, []*types.Block]),
		sizes:   make(map[types.LLMQType]int),
	}

	for _, p := range llmqs {
		size := p.KeepOldConnections
		if size <= 0 {
			size = 1
		}
		qc, err := lru.New[types.Hash, *quorum.Quorum](size)
		if err != nil {
			return nil, errors.Wrapf(err, "creating quorum cache for %s", p.Name)
		}
		sc, err := lru.New[types.Hash, []*types.Block](size)
		if err != nil {
			return nil, errors.Wrapf(err, "creating scan cache for %s", p.Name)
		}
		c.quorums[p.Type] = qc
		c.scans[p.Type] = sc
		c.sizes[p.Type] = size
	}

	return &c, nil
}

func (c *Cache) Get(llmqType types.LLMQType, quorumHash types.Hash) (*quorum.Quorum, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	qc, ok := c.quorums[llmqType]
	if !ok {
		return nil, false
	}
	return qc.Get(quorumHash)
}

func (c *Cache) Add(q *quorum.Quorum) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if qc, ok := c.quorums[q.LLMQType()]; ok {
		qc.Add(q.QuorumHash(), q)
	}
}

// GetScan returns a copy of the base blocks cached for the start block. Callers resolve them to
// quorums, so a quorum evicted and rebuilt since the scan is never served stale.
func (c *Cache) GetScan(llmqType types.LLMQType, startHash types.Hash) ([]*types.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.scans[llmqType]
	if !ok {
		return nil, false
	}
	blocks, ok := sc.Get(startHash)
	if !ok {
		return nil, false
	}
	return append([]*types.Block(nil), blocks...), true
}

// AddScan stores at most Capacity(llmqType) entries of baseBlocks.
func (c *Cache) AddScan(llmqType types.LLMQType, startHash types.Hash, baseBlocks []*types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.scans[llmqType]
	if !ok {
		return
	}
	if len(baseBlocks) > c.sizes[llmqType] {
		baseBlocks = baseBlocks[:c.sizes[llmqType]]
	}
	sc.Add(startHash, append([]*types.Block(nil), baseBlocks...))
}

func (c *Cache) Capacity(llmqType types.LLMQType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizes[llmqType]
}

func (c *Cache) Len(llmqType types.LLMQType) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	qc, ok := c.quorums[llmqType]
	if !ok {
		return 0
	}
	return qc.Len()
}
