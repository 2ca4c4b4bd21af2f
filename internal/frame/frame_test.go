package frame_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvmesh/kvmesh/internal/frame"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := frame.Frame{
		Tag:    frame.OpPut,
		Key:    []byte("alpha"),
		Value:  []byte("1"),
		Status: frame.StatusOK,
	}

	buf := f.Encode()
	assert.Len(t, buf, frame.Size)

	got, err := frame.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, f.Tag, got.Tag)
	assert.Equal(t, f.Key, got.Key)
	assert.Equal(t, f.Value, got.Value)
	assert.Equal(t, f.Status, got.Status)
}

func TestEncodeTruncatesOversizedFields(t *testing.T) {
	key := bytes.Repeat([]byte("k"), frame.KeySize+50)
	value := bytes.Repeat([]byte("v"), frame.ValueSize+50)

	f := frame.Frame{Tag: frame.OpPut, Key: key, Value: value}
	got, err := frame.Decode(f.Encode())
	require.NoError(t, err)

	assert.Len(t, got.Key, frame.KeySize-1)
	assert.Len(t, got.Value, frame.ValueSize-1)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := frame.Decode(make([]byte, frame.Size-1))
	assert.Error(t, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := frame.Frame{Tag: frame.OpGet, Key: []byte("k"), Status: frame.StatusFail}

	require.NoError(t, frame.Write(&buf, f))

	got, err := frame.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.Tag, got.Tag)
	assert.Equal(t, f.Key, got.Key)
	assert.Equal(t, f.Status, got.Status)
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "REPLICATE_PUT", frame.OpReplicatePut.String())
	assert.Equal(t, "REPLICATE_DELETE", frame.OpReplicateDel.String())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "OK", frame.StatusOK.String())
	assert.Equal(t, "REDIRECT", frame.StatusRedirect.String())
	assert.Equal(t, "UNKNOWN_OP", frame.StatusUnknown.String())
}
