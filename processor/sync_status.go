package processor

import (
	"sync"

	"github.com/qubic/go-llmq/types"
)

type SyncStatus struct {
	LastProcessedHash   types.Hash
	LastProcessedHeight int32
	ProcessedTips       uint64
	SkippedTips         uint64
	LastProcessDuration float32
}

type SyncStatusMutex struct {
	mutex  sync.RWMutex
	Status *SyncStatus
}

func (ssm *SyncStatusMutex) setLastProcessedBlock(hash types.Hash, height int32) {
	ssm.mutex.Lock()
	defer ssm.mutex.Unlock()
	ssm.Status.LastProcessedHash = hash
	ssm.Status.LastProcessedHeight = height
	ssm.Status.ProcessedTips++
}

func (ssm *SyncStatusMutex) incSkippedTips() {
	ssm.mutex.Lock()
	defer ssm.mutex.Unlock()
	ssm.Status.SkippedTips++
}

func (ssm *SyncStatusMutex) setLastProcessDuration(seconds float32) {
	ssm.mutex.Lock()
	defer ssm.mutex.Unlock()
	ssm.Status.LastProcessDuration = seconds
}

func (ssm *SyncStatusMutex) Get() SyncStatus {
	ssm.mutex.RLock()
	defer ssm.mutex.RUnlock()

	return *ssm.Status
}
