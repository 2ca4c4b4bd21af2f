package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
)

// Snapshots are a compact, point-in-time dump of every valid entry so that
// recovery doesn't have to replay the log from the beginning of time
// (spec §4.3 create_snapshot / §6 Snapshot file).
//
// writeSnapshot serializes count+entries and writes them with
// github.com/natefinch/atomic, which writes to a temp file in the same
// directory and renames it into place — the same "old snapshot survives a
// crash mid-write" guarantee the reference gets from fopen+fwrite+rename,
// without hand-rolling the temp-file dance.
func writeSnapshot(path string, entries []entryRecord) error {
	var buf bytes.Buffer
	var count [4]byte
	binary.NativeEndian.PutUint32(count[:], uint32(len(entries)))
	buf.Write(count[:])
	for _, e := range entries {
		buf.Write(e.encode())
	}

	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("store: write snapshot %s: %w", path, err)
	}
	return nil
}

// readSnapshot parses a snapshot file written by writeSnapshot.
func readSnapshot(path string) ([]entryRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read snapshot %s: %w", path, err)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("store: snapshot %s truncated: %d bytes", path, len(data))
	}
	n := int(binary.NativeEndian.Uint32(data[:4]))
	data = data[4:]

	entries := make([]entryRecord, 0, n)
	for i := 0; i < n; i++ {
		if len(data) < entryRecordSize {
			break // truncated snapshot; return what parsed cleanly
		}
		e, err := decodeEntryRecord(data[:entryRecordSize])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		data = data[entryRecordSize:]
	}
	return entries, nil
}

const (
	snapshotPrefix = "snapshot_"
	snapshotSuffix = ".dat"
	logPrefix      = "operations_"
	logSuffix      = ".log"
	initialLogName = "operations.log"
)

func snapshotPath(dataDir string, ts int64) string {
	return filepath.Join(dataDir, fmt.Sprintf("%s%d%s", snapshotPrefix, ts, snapshotSuffix))
}

func rotatedLogPath(dataDir string, ts int64) string {
	return filepath.Join(dataDir, fmt.Sprintf("%s%d%s", logPrefix, ts, logSuffix))
}

// latestSnapshot finds the "snapshot_<ts>.dat" file with the largest ts in
// dataDir. Returns ok=false if none exist (spec §4.3 recover step 1).
func latestSnapshot(dataDir string) (name string, ts int64, ok bool, err error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return "", 0, false, err
	}

	best := int64(-1)
	var bestName string
	for _, e := range entries {
		n := e.Name()
		if !strings.HasPrefix(n, snapshotPrefix) || !strings.HasSuffix(n, snapshotSuffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(n, snapshotPrefix), snapshotSuffix)
		t, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			continue
		}
		if t > best {
			best = t
			bestName = n
		}
	}
	if bestName == "" {
		return "", 0, false, nil
	}
	return bestName, best, true, nil
}

// newerLogFiles returns "operations_<ts>.log" files whose parsed timestamp is
// >= after, sorted ascending by timestamp. The reference applies logs in
// directory-enumeration order (platform dependent); §9 REDESIGN FLAGS
// requires sorting so recovery is deterministic.
func newerLogFiles(dataDir string, after int64) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, err
	}

	type tsName struct {
		ts   int64
		name string
	}
	var matches []tsName
	for _, e := range entries {
		n := e.Name()
		if !strings.HasPrefix(n, logPrefix) || !strings.HasSuffix(n, logSuffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(n, logPrefix), logSuffix)
		t, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			continue
		}
		if t >= after {
			matches = append(matches, tsName{t, n})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ts < matches[j].ts })

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.name
	}
	return out, nil
}
