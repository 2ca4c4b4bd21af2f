package store

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kvmesh/kvmesh/internal/frame"
)

// logRecord is one durable mutation entry in the write-ahead log: only PUT
// and DELETE records are ever produced (spec §3, LogRecord).
//
// Wire layout (logRecordSize bytes): tag int32, 4 bytes padding (keeps the
// int64 timestamp 8-byte aligned the way a C compiler would on amd64),
// timestamp int64 (unix seconds), key[KeySize], value[ValueSize].
type logRecord struct {
	Tag       frame.Tag
	Timestamp int64
	Key       []byte
	Value     []byte
}

const logRecordSize = 4 + 4 + 8 + frame.KeySize + frame.ValueSize

func (r logRecord) encode() []byte {
	buf := make([]byte, logRecordSize)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(r.Tag))
	binary.NativeEndian.PutUint64(buf[8:16], uint64(r.Timestamp))
	putField(buf, 16, frame.KeySize, r.Key)
	putField(buf, 16+frame.KeySize, frame.ValueSize, r.Value)
	return buf
}

func decodeLogRecord(buf []byte) (logRecord, error) {
	if len(buf) != logRecordSize {
		return logRecord{}, fmt.Errorf("store: short log record: got %d bytes, want %d", len(buf), logRecordSize)
	}
	return logRecord{
		Tag:       frame.Tag(int32(binary.NativeEndian.Uint32(buf[0:4]))),
		Timestamp: int64(binary.NativeEndian.Uint64(buf[8:16])),
		Key:       getField(buf, 16, frame.KeySize),
		Value:     getField(buf, 16+frame.KeySize, frame.ValueSize),
	}, nil
}

func readLogRecord(r io.Reader) (logRecord, error) {
	buf := make([]byte, logRecordSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return logRecord{}, err
	}
	return decodeLogRecord(buf)
}

// entryRecord is one (key, value, valid) triple as persisted in a snapshot
// file (spec §3, Entry / §6 Snapshot file).
const entryRecordSize = frame.KeySize + frame.ValueSize + 1

type entryRecord struct {
	Key   []byte
	Value []byte
	Valid bool
}

func (e entryRecord) encode() []byte {
	buf := make([]byte, entryRecordSize)
	putField(buf, 0, frame.KeySize, e.Key)
	putField(buf, frame.KeySize, frame.ValueSize, e.Value)
	if e.Valid {
		buf[frame.KeySize+frame.ValueSize] = 1
	}
	return buf
}

func decodeEntryRecord(buf []byte) (entryRecord, error) {
	if len(buf) != entryRecordSize {
		return entryRecord{}, fmt.Errorf("store: short entry record: got %d bytes, want %d", len(buf), entryRecordSize)
	}
	return entryRecord{
		Key:   getField(buf, 0, frame.KeySize),
		Value: getField(buf, frame.KeySize, frame.ValueSize),
		Valid: buf[frame.KeySize+frame.ValueSize] != 0,
	}, nil
}

// putField and getField mirror frame's field (de)serialization: null-pad and
// truncate on write, trim the NUL terminator on read. Duplicated rather than
// exported from frame to keep frame's surface limited to the wire Frame
// type; both packages encode the same kind of fixed, NUL-terminated field.
func putField(dst []byte, off, width int, src []byte) {
	if len(src) > width-1 {
		src = src[:width-1]
	}
	n := copy(dst[off:off+width], src)
	for i := off + n; i < off+width; i++ {
		dst[i] = 0
	}
}

func getField(src []byte, off, width int) []byte {
	field := src[off : off+width]
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	out := make([]byte, n)
	copy(out, field[:n])
	return out
}
