package store

import (
	"encoding/binary"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("store resource not found")

// ContributionStore persists the cryptographic material of quorums. Values are opaque to the
// store; keys are quorum identity hashes.
type ContributionStore struct {
	db       *pebble.DB
	listener *EventListener
	logger   *zap.Logger
}

func NewContributionStore(db *pebble.DB, logger *zap.Logger) *ContributionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContributionStore{
		db:     db,
		logger: logger,
	}
}

// Open creates or opens the store under storagePath with an event listener attached.
func Open(storagePath string, logger *zap.Logger) (*ContributionStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	listener := NewEventListener(logger)

	dbPath := storagePath + string(filepath.Separator) + "contributions"
	db, err := pebble.Open(dbPath, &pebble.Options{EventListener: &listener.PebbleListener})
	if err != nil {
		return nil, errors.Wrap(err, "opening contributions db")
	}

	s := NewContributionStore(db, logger)
	s.listener = listener
	return s, nil
}

func (s *ContributionStore) EventListener() *EventListener {
	return s.listener
}

func (s *ContributionStore) ReadVerificationVector(quorumKey types.Hash) ([]byte, error) {
	return s.get(verificationVectorKey(quorumKey), "verification vector")
}

func (s *ContributionStore) ReadSecretKeyShare(quorumKey types.Hash) ([]byte, error) {
	return s.get(secretKeyShareKey(quorumKey), "secret key share")
}

// WriteContributions stores both values in one batch. A nil secret key share removes any
// previously stored one so the pair never goes out of sync.
func (s *ContributionStore) WriteContributions(quorumKey types.Hash, vvec, skShare []byte) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	err := batch.Set(verificationVectorKey(quorumKey), vvec, nil)
	if err != nil {
		return errors.Wrap(err, "adding verification vector to batch")
	}

	if skShare != nil {
		err = batch.Set(secretKeyShareKey(quorumKey), skShare, nil)
	} else {
		err = batch.Delete(secretKeyShareKey(quorumKey), nil)
	}
	if err != nil {
		return errors.Wrap(err, "adding secret key share to batch")
	}

	err = batch.Commit(pebble.Sync)
	if err != nil {
		return errors.Wrap(err, "committing contributions batch")
	}
	return nil
}

func (s *ContributionStore) DeleteContributions(quorumKey types.Hash) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	err := batch.Delete(verificationVectorKey(quorumKey), nil)
	if err != nil {
		return errors.Wrap(err, "deleting verification vector")
	}
	err = batch.Delete(secretKeyShareKey(quorumKey), nil)
	if err != nil {
		return errors.Wrap(err, "deleting secret key share")
	}

	err = batch.Commit(pebble.Sync)
	if err != nil {
		return errors.Wrap(err, "committing delete batch")
	}
	return nil
}

// ForEachVerificationVector visits stored vectors in key order until fn returns an error.
func (s *ContributionStore) ForEachVerificationVector(fn func(quorumKey types.Hash, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{VerificationVector},
		UpperBound: prefixUpperBound(VerificationVector),
	})
	if err != nil {
		return errors.Wrap(err, "creating iter")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		quorumKey, err := types.HashFromBytes(key[1:])
		if err != nil {
			s.logger.Warn("skipping malformed verification vector key", zap.Binary("key", key))
			continue
		}

		value, err := iter.ValueAndErr()
		if err != nil {
			return errors.Wrapf(err, "reading verification vector %s", quorumKey)
		}
		err = fn(quorumKey, append([]byte(nil), value...))
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *ContributionStore) SetLastProcessedBlock(hash types.Hash, height int32) error {
	value := binary.LittleEndian.AppendUint32(nil, uint32(height))
	value = append(value, hash[:]...)

	err := s.db.Set(lastProcessedBlockKey(), value, pebble.Sync)
	if err != nil {
		return errors.Wrap(err, "storing last processed block")
	}
	return nil
}

func (s *ContributionStore) GetLastProcessedBlock() (types.Hash, int32, error) {
	value, err := s.get(lastProcessedBlockKey(), "last processed block")
	if err != nil {
		return types.Hash{}, 0, err
	}
	if len(value) != 4+types.HashSize {
		return types.Hash{}, 0, errors.Errorf("invalid last processed block length %d", len(value))
	}

	height := int32(binary.LittleEndian.Uint32(value[:4]))
	hash, err := types.HashFromBytes(value[4:])
	if err != nil {
		return types.Hash{}, 0, errors.Wrap(err, "decoding last processed block hash")
	}
	return hash, height, nil
}

func (s *ContributionStore) get(key []byte, what string) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, errors.Wrapf(err, "getting %s", what)
	}
	defer closer.Close()

	return append([]byte(nil), value...), nil
}

func (s *ContributionStore) Close() error {
	var err error
	err = multierr.Append(err, s.db.Flush())
	err = multierr.Append(err, s.db.Close())
	return err
}
