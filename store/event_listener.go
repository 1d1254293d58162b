package store

import (
	"github.com/cockroachdb/pebble"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// EventListener counts the background work pebble does on the contribution store.
type EventListener struct {
	PebbleListener pebble.EventListener

	flushes          atomic.Int64
	compactions      atomic.Int64
	writeStalls      atomic.Int64
	writesStalled    atomic.Bool
	backgroundErrors atomic.Int64
	logger           *zap.Logger
}

func NewEventListener(logger *zap.Logger) *EventListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	el := &EventListener{logger: logger.Named("pebble")}
	el.PebbleListener = pebble.EventListener{
		BackgroundError: el.backgroundError,
		CompactionEnd:   el.compactionEnd,
		FlushEnd:        el.flushEnd,
		WriteStallBegin: el.writeStallBegin,
		WriteStallEnd:   el.writeStallEnd,
	}
	return el
}

func (el *EventListener) backgroundError(err error) {
	el.backgroundErrors.Inc()
	el.logger.Error("background error", zap.Error(err))
}

func (el *EventListener) compactionEnd(info pebble.CompactionInfo) {
	if info.Err != nil {
		return
	}
	el.compactions.Inc()
	el.logger.Debug("compaction ended", zap.Int("jobID", info.JobID), zap.String("reason", info.Reason), zap.Duration("took", info.TotalDuration))
}

func (el *EventListener) flushEnd(info pebble.FlushInfo) {
	if info.Err != nil {
		return
	}
	el.flushes.Inc()
	el.logger.Debug("flush ended", zap.Int("jobID", info.JobID), zap.Duration("took", info.TotalDuration))
}

func (el *EventListener) writeStallBegin(info pebble.WriteStallBeginInfo) {
	el.writeStalls.Inc()
	el.writesStalled.Store(true)
	el.logger.Warn("writes stalled", zap.String("reason", info.Reason))
}

func (el *EventListener) writeStallEnd() {
	el.writesStalled.Store(false)
	el.logger.Info("writes resumed")
}

type PebbleStats struct {
	Flushes          int64
	Compactions      int64
	WriteStalls      int64
	WritesStalled    bool
	BackgroundErrors int64
}

func (el *EventListener) Stats() PebbleStats {
	return PebbleStats{
		Flushes:          el.flushes.Load(),
		Compactions:      el.compactions.Load(),
		WriteStalls:      el.writeStalls.Load(),
		WritesStalled:    el.writesStalled.Load(),
		BackgroundErrors: el.backgroundErrors.Load(),
	}
}

// Fields renders the stats for a summary log line.
func (s PebbleStats) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("flushes", s.Flushes),
		zap.Int64("compactions", s.Compactions),
		zap.Int64("writeStalls", s.WriteStalls),
		zap.Bool("writesStalled", s.WritesStalled),
		zap.Int64("backgroundErrors", s.BackgroundErrors),
	}
}
