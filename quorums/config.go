package quorums

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/crypto"
	"github.com/qubic/go-llmq/types"
	"github.com/qubic/go-llmq/workers"
)

type QvvecSyncMode int

const (
	QvvecSyncInvalid          QvvecSyncMode = -1
	QvvecSyncAlways           QvvecSyncMode = 0
	QvvecSyncOnlyIfTypeMember QvvecSyncMode = 1
)

func (m QvvecSyncMode) String() string {
	switch m {
	case QvvecSyncAlways:
		return "always"
	case QvvecSyncOnlyIfTypeMember:
		return "only-if-type-member"
	default:
		return "invalid"
	}
}

type Config struct {
	// MasternodeMode is set when this node operates the masternode ProTxHash.
	MasternodeMode bool
	ProTxHash      types.Hash
	// EncryptionKey opens the contributions other members encrypted to this node.
	EncryptionKey *crypto.EncryptionKey

	WatchQuorums        bool
	DataRecovery        bool
	AllMembersConnected bool
	QvvecSync           map[types.LLMQType]QvvecSyncMode

	// RecoveryRequestTimeout is how long a recovery attempt waits on one member before moving on.
	// It is also the interval at which recovery re-checks the sync state.
	RecoveryRequestTimeout time.Duration
	RecoveryPollInterval   time.Duration
	// RecoveryStagger is multiplied by the node's start offset before each connection attempt.
	RecoveryStagger time.Duration

	Workers int
}

func DefaultConfig() Config {
	return Config{
		DataRecovery:           true,
		QvvecSync:              map[types.LLMQType]QvvecSyncMode{},
		RecoveryRequestTimeout: 10 * time.Second,
		RecoveryPollInterval:   time.Second,
		RecoveryStagger:        100 * time.Millisecond,
		Workers:                workers.DefaultSize(),
	}
}

// ParseQvvecSync parses "<llmq name>:<mode>" entries. Mode 0 syncs vectors of every quorum of the
// type, mode 1 only while this node is a member of some quorum of the type.
func ParseQvvecSync(entries []string, np types.NetworkParams) (map[types.LLMQType]QvvecSyncMode, error) {
	out := make(map[types.LLMQType]QvvecSyncMode)

	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("invalid format in qvvec sync entry: %s", entry)
		}

		params, ok := np.GetLLMQByName(parts[0])
		if !ok {
			return nil, errors.Errorf("invalid llmq type in qvvec sync entry: %s", entry)
		}
		if _, dup := out[params.Type]; dup {
			return nil, errors.Errorf("duplicated llmq type in qvvec sync entry: %s", entry)
		}

		mode := QvvecSyncInvalid
		if n, err := strconv.ParseInt(parts[1], 10, 32); err == nil {
			switch QvvecSyncMode(n) {
			case QvvecSyncAlways, QvvecSyncOnlyIfTypeMember:
				mode = QvvecSyncMode(n)
			}
		}
		if mode == QvvecSyncInvalid {
			return nil, errors.Errorf("invalid mode in qvvec sync entry: %s", entry)
		}

		out[params.Type] = mode
	}

	return out, nil
}
