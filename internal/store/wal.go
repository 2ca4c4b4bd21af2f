package store

import (
	"fmt"
	"os"
	"sync"

	"github.com/kvmesh/kvmesh/internal/frame"
)

// The write-ahead log is an append-only file of fixed-size logRecord blobs.
// Every successful PUT/DELETE writes one record and fsyncs the handle before
// the mutation is reported to the caller (spec §4.3 append policy).
//
// Interview explanation:
//
//	WALs are the backbone of crash safety in databases. Because writes are
//	sequential (append-only), they are fast even on spinning disks. On
//	restart the most recent snapshot is loaded and the timestamped logs
//	written since it are replayed on top. Records in the initial
//	operations.log, written after startup and before the first snapshot,
//	are not replayed.
type wal struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func openWAL(path string) (*wal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open wal %s: %w", path, err)
	}
	return &wal{file: f, path: path}, nil
}

// append writes one record and fsyncs — fsync (Sync) forces the OS to flush
// its write buffer to physical media; without it a crash could lose the
// record even though Write returned nil.
func (w *wal) append(rec logRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := rec.encode()
	n, err := w.file.Write(buf)
	if err != nil {
		return fmt.Errorf("store: wal append: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("store: wal append: short write (%d of %d bytes)", n, len(buf))
	}
	return w.file.Sync()
}

func (w *wal) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// readLogFile reads every logRecord sequentially out of the file at path.
// A truncated trailing record (short read) silently ends the read without an
// error; the records parsed before it are returned.
func readLogFile(path string) ([]logRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open log %s: %w", path, err)
	}
	defer f.Close()

	var records []logRecord
	for {
		rec, err := readLogRecord(f)
		if err != nil {
			break // EOF or a truncated trailing record — stop, keep what we have
		}
		records = append(records, rec)
	}
	return records, nil
}
