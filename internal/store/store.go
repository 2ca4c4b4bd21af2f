// Package store implements the in-memory key-value engine: a bounded map
// guarded by one coarse lock, an append-only write-ahead log, and periodic
// snapshotting so a node can rebuild its state after a restart.
//
// Big idea:
//
//  1. WAL (Write-Ahead Log)
//     Every successful PUT/DELETE appends one fixed-size record and fsyncs
//     the handle. The mutation is applied to memory first and logged
//     second — see the "durable-best-effort" note on Put/Delete below for
//     why that ordering was chosen over the more familiar log-then-mutate.
//
//  2. Snapshot
//     Instead of replaying the WAL from the dawn of time, the store
//     periodically dumps its full state to a timestamped snapshot file and
//     rotates to a fresh log. Recovery loads the newest snapshot, then
//     replays only the rotated logs newer than it.
//
//  3. Concurrency
//     A single mutex covers every operation end to end, so a put and its
//     log append are atomic with respect to any concurrent get or delete.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kvmesh/kvmesh/internal/frame"
)

// ErrStoreFull is returned by Put when the store has a configured capacity,
// the key is new, and the store already holds that many entries.
var ErrStoreFull = errors.New("store: full")

// ErrNotFound is returned by Get and Delete when the key has no entry.
var ErrNotFound = errors.New("store: not found")

// Store is the main storage object. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	data     map[string][]byte
	order    []string // insertion order of live keys, for ListKeys
	capacity int      // 0 means unbounded

	dataDir            string
	persistenceEnabled bool
	wal                *wal
	opCount            int

	nowFunc func() int64 // overridable for tests; defaults to time.Now().Unix()

	log zerolog.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithCapacity bounds the number of distinct keys the store will hold.
// A capacity of 0 (the default) means unbounded.
func WithCapacity(n int) Option {
	return func(s *Store) { s.capacity = n }
}

// WithLogger attaches a structured logger; the zero value is zerolog's
// no-op logger, so this is optional.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New opens (or creates) a store rooted at dataDir. If persistenceEnabled is
// true this also opens the write-ahead log and runs recovery before
// returning, rebuilding the in-memory state from the most recent snapshot
// plus any log records newer than it (spec §4.3).
func New(dataDir string, persistenceEnabled bool, opts ...Option) (*Store, error) {
	s := &Store{
		data:               make(map[string][]byte),
		dataDir:            dataDir,
		persistenceEnabled: persistenceEnabled,
		nowFunc:            unixNow,
		log:                zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !persistenceEnabled {
		return s, nil
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("store: create data dir %s: %w", dataDir, err)
	}

	if err := s.recover(); err != nil {
		s.log.Warn().Err(err).Msg("recovery did not fully complete, continuing with a fresh store")
	}

	w, err := openWAL(filepath.Join(dataDir, initialLogName))
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}
	s.wal = w

	s.log.Info().Int("entries", len(s.data)).Str("data_dir", dataDir).Msg("store ready")
	return s, nil
}

// Put inserts or overwrites key with value, truncating both to field width
// exactly like the wire frame does. Returns ErrStoreFull if the store has a
// configured capacity, the key is new, and the store is already at
// capacity.
//
// Durability note: the mutation is applied to the in-memory map before the
// WAL append. This matches the reference's literal "mutate memory, then
// append a log record" order rather than the more conservative
// log-then-mutate: a WAL append failure here does NOT roll back the
// already-applied mutation. A crash between the two leaves the store
// momentarily ahead of its own log, which recovery cannot see — accepted as
// the documented error policy (see the project's design notes) rather than
// treated as a bug to silently paper over.
func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = truncateField(key, frame.KeySize)
	value = truncateField(value, frame.ValueSize)
	k := string(key)

	_, exists := s.data[k]
	if !exists && s.capacity > 0 && len(s.data) >= s.capacity {
		return ErrStoreFull
	}

	s.data[k] = append([]byte(nil), value...)
	if !exists {
		s.order = append(s.order, k)
	}

	return s.logAndMaybeSnapshot(frame.OpPut, key, value)
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[string(truncateField(key, frame.KeySize))]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Delete removes key. Returns ErrNotFound if it was not present.
func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = truncateField(key, frame.KeySize)
	k := string(key)

	if _, ok := s.data[k]; !ok {
		return ErrNotFound
	}
	delete(s.data, k)
	s.removeFromOrder(k)

	return s.logAndMaybeSnapshot(frame.OpDelete, key, nil)
}

// ApplyReplicatedPut applies a PUT received from a peer's replication fan-out.
// Unlike Put it never fails with ErrStoreFull — a peer-originated write is
// applied best-effort, mirroring the reference's replication handler once
// the REPLICATE_PUT/REPLICATE_DELETE tag ambiguity is resolved (spec §4.5,
// §9 "Replication tag ambiguity").
func (s *Store) ApplyReplicatedPut(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = truncateField(key, frame.KeySize)
	value = truncateField(value, frame.ValueSize)
	k := string(key)

	if _, exists := s.data[k]; !exists {
		s.order = append(s.order, k)
	}
	s.data[k] = append([]byte(nil), value...)

	return s.logAndMaybeSnapshot(frame.OpPut, key, value)
}

// ApplyReplicatedDelete applies a DELETE received from a peer's replication
// fan-out. A missing key is not an error; the peers may simply be out of
// sync momentarily.
func (s *Store) ApplyReplicatedDelete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = truncateField(key, frame.KeySize)
	k := string(key)

	if _, ok := s.data[k]; ok {
		delete(s.data, k)
		s.removeFromOrder(k)
	}

	return s.logAndMaybeSnapshot(frame.OpDelete, key, nil)
}

// ListKeys returns every live key in insertion order (the hash-map
// replacement's analogue of the reference's "slot order").
func (s *Store) ListKeys() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, []byte(k))
	}
	return out
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Close flushes a final snapshot (if persistence is enabled) and closes the
// write-ahead log handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.persistenceEnabled {
		return nil
	}

	if err := s.snapshotLocked(); err != nil {
		s.log.Error().Err(err).Msg("final snapshot failed")
	}
	return s.wal.close()
}

// Snapshot forces an out-of-band snapshot and log rotation, independent of
// the op-count threshold. Used by an optional wall-clock ticker in cmd/kvnode
// so a quiet node still bounds its log size (spec §5 supplemented behavior).
// A no-op if persistence is disabled.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.snapshotLocked(); err != nil {
		return err
	}
	s.opCount = 0
	return nil
}

func (s *Store) removeFromOrder(k string) {
	for i, existing := range s.order {
		if existing == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// logAndMaybeSnapshot appends a LogRecord for the given tag/key/value (if
// persistence is enabled) and rotates to a new snapshot once the operation
// counter reaches the snapshot threshold (spec §4.3).
func (s *Store) logAndMaybeSnapshot(tag frame.Tag, key, value []byte) error {
	if !s.persistenceEnabled {
		return nil
	}

	rec := logRecord{Tag: tag, Timestamp: s.nowFunc(), Key: key, Value: value}
	if err := s.wal.append(rec); err != nil {
		// Durable-best-effort: the in-memory mutation stands and the caller
		// still sees success; the failed append is only logged.
		s.log.Error().Err(err).Str("tag", tag.String()).Msg("wal append failed")
		return nil
	}

	s.opCount++
	if s.opCount >= frame.SnapshotThreshold {
		if err := s.snapshotLocked(); err != nil {
			return err
		}
		s.opCount = 0
	}
	return nil
}

// snapshotLocked writes a snapshot of the current state and rotates the
// write-ahead log to a fresh operations_<ts>.log carrying the snapshot's ts,
// so recovery replays every record written after this snapshot. Caller must
// hold s.mu.
func (s *Store) snapshotLocked() error {
	if !s.persistenceEnabled {
		return nil
	}

	ts := s.nowFunc()
	entries := make([]entryRecord, 0, len(s.data))
	for _, k := range s.order {
		entries = append(entries, entryRecord{Key: []byte(k), Value: s.data[k], Valid: true})
	}

	if err := writeSnapshot(snapshotPath(s.dataDir, ts), entries); err != nil {
		return err
	}

	if s.wal != nil {
		if err := s.wal.close(); err != nil {
			s.log.Warn().Err(err).Msg("closing log before rotation")
		}
	}

	w, err := openWAL(rotatedLogPath(s.dataDir, ts))
	if err != nil {
		s.persistenceEnabled = false
		return fmt.Errorf("store: open log after rotation: %w", err)
	}
	s.wal = w

	s.log.Info().Int64("ts", ts).Int("entries", len(entries)).Msg("snapshot written")
	return nil
}

// recover rebuilds s.data/s.order from the most recent snapshot plus any
// rotated logs newer than it, strictly in ascending timestamp order (spec
// §9 "Recovery ordering" — the reference does not sort and this is a
// deliberate fix, not a preserved quirk).
func (s *Store) recover() error {
	name, snapshotTS, ok, err := latestSnapshot(s.dataDir)
	if err != nil {
		return fmt.Errorf("store: scan snapshots: %w", err)
	}
	if ok {
		entries, err := readSnapshot(filepath.Join(s.dataDir, name))
		if err != nil {
			return fmt.Errorf("store: load snapshot %s: %w", name, err)
		}
		for _, e := range entries {
			if !e.Valid {
				continue
			}
			k := string(e.Key)
			if _, exists := s.data[k]; !exists {
				s.order = append(s.order, k)
			}
			s.data[k] = e.Value
		}
	}

	logNames, err := newerLogFiles(s.dataDir, snapshotTS)
	if err != nil {
		return fmt.Errorf("store: scan logs: %w", err)
	}
	for _, name := range logNames {
		records, err := readLogFile(filepath.Join(s.dataDir, name))
		if err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("skipping unreadable log file")
			continue
		}
		for _, rec := range records {
			switch rec.Tag {
			case frame.OpPut:
				k := string(rec.Key)
				if _, exists := s.data[k]; !exists {
					s.order = append(s.order, k)
				}
				s.data[k] = rec.Value
			case frame.OpDelete:
				k := string(rec.Key)
				if _, ok := s.data[k]; ok {
					delete(s.data, k)
					s.removeFromOrder(k)
				}
			}
		}
	}
	return nil
}

func truncateField(b []byte, width int) []byte {
	if len(b) > width-1 {
		return b[:width-1]
	}
	return b
}
