package requests

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/qubic/go-llmq/types"
	"github.com/qubic/go-llmq/wire"
)

// Key identifies a request per peer and direction. Outgoing is true for requests we sent.
type Key struct {
	ProTxHash  types.Hash
	Outgoing   bool
	QuorumHash types.Hash
	LLMQType   types.LLMQType
}

func NewKey(proTxHash types.Hash, outgoing bool, r wire.QuorumDataRequest) Key {
	return Key{
		ProTxHash:  proTxHash,
		Outgoing:   outgoing,
		QuorumHash: r.QuorumHash,
		LLMQType:   r.LLMQType,
	}
}

func (k Key) String() string {
	dir := "incoming"
	if k.Outgoing {
		dir = "outgoing"
	}
	return fmt.Sprintf("%s/%s/%s/%s", k.ProTxHash, dir, k.LLMQType, k.QuorumHash)
}

type ResponseStatus int

const (
	Accepted ResponseStatus = iota
	NotRequested
	AlreadyProcessed
	Mismatch
)

func (s ResponseStatus) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case NotRequested:
		return "not requested"
	case AlreadyProcessed:
		return "already received"
	case Mismatch:
		return "not like requested"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Registry tracks outstanding requests in both directions. Entries are values; callers never
// get a handle into the map.
type Registry struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[Key]wire.QuorumDataRequest
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clock:   clk,
		entries: make(map[Key]wire.QuorumDataRequest),
	}
}

// TryAdd registers r under key unless a non-expired entry exists. An expired entry is replaced.
// The creation time is stamped by the registry.
func (r *Registry) TryAdd(key Key, req wire.QuorumDataRequest) bool {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok && !existing.IsExpired(now) {
		return false
	}
	req.Created = now
	req.Processed = false
	r.entries[key] = req
	return true
}

func (r *Registry) Get(key Key) (wire.QuorumDataRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.entries[key]
	return req, ok
}

// ProcessResponse matches a response against the outgoing request stored under key and marks it
// processed when it is the first valid match. A mismatch leaves the entry untouched.
func (r *Registry) ProcessResponse(key Key, echoed wire.QuorumDataRequest) ResponseStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.entries[key]
	if !ok {
		return NotRequested
	}
	if req.Processed {
		return AlreadyProcessed
	}
	if !req.Equal(echoed) {
		return Mismatch
	}
	req.Processed = true
	req.Error = echoed.Error
	r.entries[key] = req
	return Accepted
}

// Cleanup drops every expired entry and returns how many were removed.
func (r *Registry) Cleanup() int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for k, req := range r.entries {
		if req.IsExpired(now) {
			delete(r.entries, k)
			removed++
		}
	}
	return removed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
