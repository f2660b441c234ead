package btree

import (
	"cmp"
	"fmt"

	"github.com/rs/zerolog"
)

// LogManager couples a BTree with an append-only log so the store
// survives restarts. Opening replays the existing log into the tree;
// every mutation afterwards applies to the tree first and then appends
// one record and flushes. Shutdown compacts the log into an INSERT-only
// snapshot of the live contents via an atomic file replace.
//
// The manager is single-threaded: callers serialize access externally.
//
// USAGE:
//
//	store, err := Open[string, int](Config{Path: "data/log.txt"},
//	    StringCodec{}, IntCodec{})
//	defer store.Close()
//
//	store.Insert("a", 1)
//	value, ok := store.Lookup("a")
//	store.Shutdown() // compact before exit
type LogManager[K cmp.Ordered, V any] struct {
	tree   *BTree[K, V]
	wal    *WAL
	keys   Codec[K]
	values Codec[V]

	tempPath string
	logger   zerolog.Logger

	replayed  int
	compacted int
}

// Stats describes a LogManager's activity since it was opened.
type Stats struct {
	Entries   int    // live keys in the index
	Appended  uint64 // records appended since open
	Replayed  int    // records replayed at open
	Compacted int    // records written by the last compaction
	FileSize  int64  // current log size in bytes
}

// Open opens the store at cfg.Path, creating the log if absent, and
// replays it through the supplied codecs. A record that fails to parse
// makes the open fail with ErrCorruptRecord: silently dropping it would
// corrupt the recovered state.
func Open[K cmp.Ordered, V any](cfg Config, keys Codec[K], values Codec[V]) (*LogManager[K, V], error) {
	cfg.withDefaults()

	wal, err := OpenWAL(cfg.Path, cfg.Sync)
	if err != nil {
		return nil, err
	}

	m := &LogManager[K, V]{
		tree:     NewWithDegree[K, V](cfg.Degree),
		wal:      wal,
		keys:     keys,
		values:   values,
		tempPath: cfg.TempPath,
		logger:   cfg.logger(),
	}

	count, err := m.replay()
	if err != nil {
		wal.Close()
		return nil, err
	}
	m.replayed = count
	m.logger.Info().
		Str("path", cfg.Path).
		Int("records", count).
		Int("entries", m.tree.Len()).
		Msg("log replayed")

	return m, nil
}

// replay applies every log record to the tree. No records are appended
// while replaying.
func (m *LogManager[K, V]) replay() (int, error) {
	return m.wal.Replay(func(rec Record) error {
		key, err := m.keys.Decode(rec.Key)
		if err != nil {
			return fmt.Errorf("%w: key %q: %v", ErrCorruptRecord, rec.Key, err)
		}
		switch rec.Op {
		case opInsert:
			value, err := m.values.Decode(rec.Value)
			if err != nil {
				return fmt.Errorf("%w: value %q: %v", ErrCorruptRecord, rec.Value, err)
			}
			m.tree.Insert(key, value)
		case opDelete:
			m.tree.Delete(key)
		}
		return nil
	})
}

// Insert adds a key-value pair to the index and appends an INSERT
// record. Inserting an existing key leaves the stored value in place;
// the appended record replays as the same no-op.
func (m *LogManager[K, V]) Insert(key K, value V) error {
	keyText, err := encodeField(m.keys, key)
	if err != nil {
		return err
	}
	valueText, err := encodeField(m.values, value)
	if err != nil {
		return err
	}

	m.tree.Insert(key, value)
	if err := m.wal.AppendInsert(keyText, valueText); err != nil {
		return err
	}
	m.logger.Trace().Str("key", keyText).Msg("insert")
	return nil
}

// Delete removes key from the index and appends a DELETE record.
// Deleting an absent key still logs the record; it replays as a no-op.
func (m *LogManager[K, V]) Delete(key K) error {
	keyText, err := encodeField(m.keys, key)
	if err != nil {
		return err
	}

	m.tree.Delete(key)
	if err := m.wal.AppendDelete(keyText); err != nil {
		return err
	}
	m.logger.Trace().Str("key", keyText).Msg("delete")
	return nil
}

// Lookup returns the value stored for key, or (zero, false) if absent.
func (m *LogManager[K, V]) Lookup(key K) (V, bool) {
	return m.tree.Lookup(key)
}

// Len returns the number of live entries in the index.
func (m *LogManager[K, V]) Len() int {
	return m.tree.Len()
}

// Shutdown replaces the log with a compact INSERT-only snapshot of the
// current index contents. The store stays open for further operations
// against the fresh log.
func (m *LogManager[K, V]) Shutdown() error {
	m.logger.Info().Str("path", m.wal.Path()).Msg("compaction started")

	count := 0
	err := m.wal.Compact(m.tempPath, func(insert func(key, value string) error) error {
		var failed error
		m.tree.Ascend(func(key K, value V) bool {
			keyText, err := encodeField(m.keys, key)
			if err != nil {
				failed = err
				return false
			}
			valueText, err := encodeField(m.values, value)
			if err != nil {
				failed = err
				return false
			}
			if err := insert(keyText, valueText); err != nil {
				failed = err
				return false
			}
			count++
			return true
		})
		return failed
	})
	if err != nil {
		return err
	}

	m.compacted = count
	m.logger.Info().Int("records", count).Msg("compaction finished")
	return nil
}

// Stats returns activity counters for the manager.
func (m *LogManager[K, V]) Stats() Stats {
	size, err := m.wal.Size()
	if err != nil {
		size = -1
	}
	return Stats{
		Entries:   m.tree.Len(),
		Appended:  m.wal.Appended(),
		Replayed:  m.replayed,
		Compacted: m.compacted,
		FileSize:  size,
	}
}

// Close flushes and closes the log file. The manager must not be used
// afterwards.
func (m *LogManager[K, V]) Close() error {
	return m.wal.Close()
}
