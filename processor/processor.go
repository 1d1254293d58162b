package processor

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/store"
	"github.com/qubic/go-llmq/types"
	"go.uber.org/zap"
)

func newTipAlreadyProcessedError(hash types.Hash, height int32) *TipAlreadyProcessedError {
	return &TipAlreadyProcessedError{hash: hash, height: height}
}

type TipAlreadyProcessedError struct {
	hash   types.Hash
	height int32
}

func (e *TipAlreadyProcessedError) Error() string {
	return errors.Errorf("Tip %s at height %d was already processed", e.hash, e.height).Error()
}

// TipHandler is the quorum manager's block tip entry point.
type TipHandler interface {
	UpdatedBlockTip(tip *types.Block)
}

type TipStore interface {
	SetLastProcessedBlock(hash types.Hash, height int32) error
	GetLastProcessedBlock() (types.Hash, int32, error)
}

// Processor hands block tips to the handler one at a time. Tips arriving while one is processed
// are coalesced; only the newest is handled.
type Processor struct {
	handler TipHandler
	store   TipStore
	tips    chan *types.Block
	clock   clock.Clock
	logger  *zap.Logger
	status  *SyncStatusMutex
}

func NewProcessor(handler TipHandler, tipStore TipStore, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		handler: handler,
		store:   tipStore,
		tips:    make(chan *types.Block, 1),
		clock:   clock.New(),
		logger:  logger.Named("processor"),
		status:  &SyncStatusMutex{Status: &SyncStatus{}},
	}
}

func (p *Processor) Status() SyncStatus {
	return p.status.Get()
}

// Notify queues tip without blocking, replacing a tip that was not picked up yet.
func (p *Processor) Notify(tip *types.Block) {
	if tip == nil {
		return
	}
	for {
		select {
		case p.tips <- tip:
			return
		default:
		}
		select {
		case <-p.tips:
			p.status.incSkippedTips()
		default:
		}
	}
}

// Start processes tips until ctx is done.
func (p *Processor) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tip := <-p.tips:
			err := p.processTip(tip)
			var alreadyProcessed *TipAlreadyProcessedError
			switch {
			case errors.As(err, &alreadyProcessed):
				p.logger.Debug("skipping tip", zap.Error(err))
			case err != nil:
				p.logger.Warn("processing tip failed", zap.Int32("height", tip.Height), zap.Error(err))
			}
		}
	}
}

func (p *Processor) processTip(tip *types.Block) error {
	lastHash, _, err := p.store.GetLastProcessedBlock()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return errors.Wrap(err, "getting last processed block")
	}
	if err == nil && lastHash == tip.Hash {
		return newTipAlreadyProcessedError(tip.Hash, tip.Height)
	}

	start := p.clock.Now()
	p.handler.UpdatedBlockTip(tip)
	p.status.setLastProcessDuration(float32(p.clock.Since(start).Seconds()))

	if err := p.store.SetLastProcessedBlock(tip.Hash, tip.Height); err != nil {
		return errors.Wrapf(err, "setting last processed block %s", tip.Hash)
	}
	p.status.setLastProcessedBlock(tip.Hash, tip.Height)

	return nil
}
