package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/crypto"
	"github.com/qubic/go-llmq/store"
	"github.com/qubic/go-llmq/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const prefix = "LLMQ_INSPECTOR"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}
	defer logger.Sync()

	var cfg struct {
		StorageFolder string `conf:"default:store"`
		// Prune deletes entries whose verification vector does not decode.
		Prune bool `conf:"default:false"`
	}

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	log.Printf("main: Config :\n%v\n", out)

	s, err := store.Open(cfg.StorageFolder, logger)
	if err != nil {
		return errors.Wrap(err, "opening contribution store")
	}
	defer s.Close()

	if hash, height, err := s.GetLastProcessedBlock(); err == nil {
		logger.Info("last processed block", zap.Stringer("hash", hash), zap.Int32("height", height))
	} else if !errors.Is(err, store.ErrNotFound) {
		return errors.Wrap(err, "reading last processed block")
	}

	var total, withShare int
	var invalid []types.Hash
	err = s.ForEachVerificationVector(func(quorumKey types.Hash, value []byte) error {
		total++
		vvec, err := crypto.UnmarshalVerificationVector(value)
		if err != nil {
			logger.Warn("undecodable verification vector", zap.Stringer("quorumKey", quorumKey), zap.Error(err))
			invalid = append(invalid, quorumKey)
			return nil
		}

		fields := []zap.Field{
			zap.Stringer("quorumKey", quorumKey),
			zap.Int("threshold", len(vvec)),
			zap.Stringer("vvecHash", vvec.Hash()),
		}
		raw, err := s.ReadSecretKeyShare(quorumKey)
		switch {
		case err == nil:
			_, keyErr := crypto.SecretKeyFromBytes(raw)
			fields = append(fields, zap.Bool("skShare", keyErr == nil))
			if keyErr == nil {
				withShare++
			}
		case errors.Is(err, store.ErrNotFound):
			fields = append(fields, zap.Bool("skShare", false))
		default:
			return errors.Wrapf(err, "reading secret key share of %s", quorumKey)
		}
		logger.Info("quorum contributions", fields...)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "iterating verification vectors")
	}

	if cfg.Prune {
		for _, key := range invalid {
			if err := s.DeleteContributions(key); err != nil {
				return errors.Wrapf(err, "deleting contributions of %s", key)
			}
		}
	}

	fields := []zap.Field{
		zap.Int("quorums", total),
		zap.Int("withSkShare", withShare),
		zap.Int("invalid", len(invalid)),
		zap.Bool("pruned", cfg.Prune && len(invalid) > 0),
	}
	fields = append(fields, s.EventListener().Stats().Fields()...)
	logger.Info("contribution store summary", fields...)

	return nil
}
