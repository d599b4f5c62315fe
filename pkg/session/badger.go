package session

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	badgerPrefix      = "memedin/session/"
	badgerWatchPrefix = badgerPrefix + "_watch/"

	badgerWatchRetry   = 10 * time.Millisecond
	badgerWatchTimeout = 5 * time.Second
)

// BadgerBackend keeps session values in an embedded badger database. Every
// store opened on the same DB sees the others' writes through DB.Subscribe,
// and values survive restarts when the DB is on disk.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger database in dir.
// An empty dir opens an in-memory database.
func OpenBadger(dir string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open badger at %q", dir)
	}
	return &BadgerBackend{db: db}, nil
}

func badgerKey(key Key) []byte {
	return []byte(badgerPrefix + string(key))
}

// Load returns the stored envelope for key
func (b *BadgerBackend) Load(_ context.Context, key Key) ([]byte, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read session value")
	}
	return raw, nil
}

// Save writes raw under key in its own transaction
func (b *BadgerBackend) Save(_ context.Context, key Key, raw []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), raw)
	})
	if err != nil {
		return errors.Wrap(err, "failed to write session value")
	}
	return nil
}

// Watch subscribes to writes under the session prefix until ctx is done. It
// returns once the subscription is delivering: a marker key is written until
// the subscriber sees it.
func (b *BadgerBackend) Watch(ctx context.Context, fn WatchFunc) error {
	marker := []byte(badgerWatchPrefix + uuid.NewString())
	ready := make(chan struct{})
	var once sync.Once

	go func() {
		err := b.db.Subscribe(ctx, func(list *badger.KVList) error {
			for _, kv := range list.Kv {
				if bytes.HasPrefix(kv.Key, []byte(badgerWatchPrefix)) {
					if bytes.Equal(kv.Key, marker) {
						once.Do(func() { close(ready) })
					}
					continue
				}
				key := Key(strings.TrimPrefix(string(kv.Key), badgerPrefix))
				fn(key, kv.Value)
			}
			return nil
		}, []byte(badgerPrefix))
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("Badger session subscription ended")
		}
	}()

	defer func() {
		err := b.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(marker)
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to remove badger watch marker")
		}
	}()

	timeout := time.NewTimer(badgerWatchTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(badgerWatchRetry)
	defer ticker.Stop()

	for {
		err := b.db.Update(func(txn *badger.Txn) error {
			return txn.Set(marker, nil)
		})
		if err != nil {
			return errors.Wrap(err, "failed to write badger watch marker")
		}

		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return errors.New("badger subscription did not start")
		case <-ticker.C:
		}
	}
}

// Close closes the underlying database
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's internal logging through zerolog
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error().Str("component", "badger").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warn().Str("component", "badger").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Debug().Str("component", "badger").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	log.Trace().Str("component", "badger").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
