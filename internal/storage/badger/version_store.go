// Package badger stores indexed document versions in an embedded BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const keyPrefix = "version\x00"

// Options configures the embedded database.
type Options struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir        string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger
}

// VersionStore implements store.VersionStore on BadgerDB. Keys are
// "version\x00<connection>\x00<id>".
type VersionStore struct {
	db *badger.DB
}

// Open opens (or creates) the database described by opts.
func Open(opts Options) (*VersionStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("versions.dir is required")
	}
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create versions dir %s: %w", opts.Dir, err)
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(zapLogger{opts.Logger.Sugar().Named("badger")})
	} else {
		bopts = bopts.WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &VersionStore{db: db}, nil
}

// Close releases the database.
func (s *VersionStore) Close() error {
	return s.db.Close()
}

func connectionPrefix(connection string) []byte {
	return []byte(keyPrefix + connection + "\x00")
}

func versionKey(connection, id string) []byte {
	return append(connectionPrefix(connection), id...)
}

// Get returns "" for a document never indexed.
func (s *VersionStore) Get(_ context.Context, connection, id string) (string, error) {
	var version string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(versionKey(connection, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			version = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("get version %s/%s: %w", connection, id, err)
	}
	return version, nil
}

// Put records the version of a document.
func (s *VersionStore) Put(_ context.Context, connection, id, version string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(versionKey(connection, id), []byte(version))
	})
	if err != nil {
		return fmt.Errorf("put version %s/%s: %w", connection, id, err)
	}
	return nil
}

// Delete forgets a document.
func (s *VersionStore) Delete(_ context.Context, connection, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(versionKey(connection, id))
	})
	if err != nil {
		return fmt.Errorf("delete version %s/%s: %w", connection, id, err)
	}
	return nil
}

// List scans every version of a connection.
func (s *VersionStore) List(ctx context.Context, connection string) (map[string]string, error) {
	prefix := connectionPrefix(connection)
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), string(prefix))
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[id] = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list versions %s: %w", connection, err)
	}
	return out, nil
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Errorf(format string, args ...any)   { l.s.Errorf(format, args...) }
func (l zapLogger) Warningf(format string, args ...any) { l.s.Warnf(format, args...) }
func (l zapLogger) Infof(format string, args ...any)    { l.s.Debugf(format, args...) }
func (l zapLogger) Debugf(format string, args ...any)   { l.s.Debugf(format, args...) }
