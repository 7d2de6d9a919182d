package trace

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvents() []Event {
	return []Event{
		BlockExecuted(1, 0x100),
		MarkConditional(1, 0x100),
		BranchTaken(1, 0x100),
		BranchFallthrough(2, 0x100),
		IndirectBranch(2, 0x200, 0x300, true),
		IndirectBranch(2, 0x200, 0x400, false),
	}
}

func readAll(t *testing.T, src Source) []Event {
	t.Helper()

	var out []Event

	for {
		ev, err := src.Next()
		if err == io.EOF {
			return out
		}

		require.NoError(t, err)

		out = append(out, ev)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, c := range []string{"", CompressionNone, CompressionZstd, CompressionSnappy} {
		t.Run("compression="+c, func(t *testing.T) {
			var buf bytes.Buffer

			w, err := NewWriter(&buf, c)
			require.NoError(t, err)

			for _, ev := range sampleEvents() {
				require.NoError(t, w.Write(ev))
			}

			require.NoError(t, w.Close())

			r, err := NewReader(&buf, c)
			require.NoError(t, err)

			defer r.Close()

			assert.Equal(t, sampleEvents(), readAll(t, r))
		})
	}
}

func TestCodec_UnsupportedCompression(t *testing.T) {
	_, err := NewWriter(io.Discard, "lz4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")

	_, err = NewReader(bytes.NewReader(nil), "lz4")
	require.Error(t, err)
}

func TestReader_EmptyStream(t *testing.T) {
	r, err := NewReader(bytes.NewReader(nil), CompressionNone)
	require.NoError(t, err)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_Garbage(t *testing.T) {
	r, err := NewReader(bytes.NewReader([]byte{0xc1, 0xc1, 0xc1}), CompressionNone)
	require.NoError(t, err)

	_, err = r.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
	assert.Contains(t, err.Error(), "decoding event")
}

func encodeRaw(t *testing.T, events ...Event) []byte {
	t.Helper()

	var buf bytes.Buffer

	w, err := NewWriter(&buf, CompressionNone)
	require.NoError(t, err)

	for _, ev := range events {
		require.NoError(t, w.Write(ev))
	}

	require.NoError(t, w.Close())

	return buf.Bytes()
}

func TestReader_TruncatedStream(t *testing.T) {
	events := []Event{
		IndirectBranch(1, 0x7fffdeadbeef, 0x7fff00001000, true),
		IndirectBranch(2, 0x7fffdeadbeef, 0x7fff00002000, true),
		IndirectBranch(3, 0x7fffdeadbeef, 0x7fff00003000, true),
	}

	data := encodeRaw(t, events...)

	// Offsets at which a whole number of events has been written.
	boundaries := map[int]int{0: 0}
	offset := 0

	for i, ev := range events {
		offset += len(encodeRaw(t, ev))
		boundaries[offset] = i + 1
	}

	require.Equal(t, len(data), offset)

	for cut := 0; cut <= len(data); cut++ {
		r, err := NewReader(bytes.NewReader(data[:cut]), CompressionNone)
		require.NoError(t, err)

		var (
			decoded int
			nextErr error
		)

		for {
			_, nextErr = r.Next()
			if nextErr != nil {
				break
			}

			decoded++
		}

		if want, ok := boundaries[cut]; ok {
			assert.Equal(t, io.EOF, nextErr, "cut=%d", cut)
			assert.Equal(t, want, decoded, "cut=%d", cut)

			continue
		}

		require.Error(t, nextErr, "cut=%d", cut)
		assert.NotEqual(t, io.EOF, nextErr, "cut=%d", cut)
		assert.ErrorIs(t, nextErr, io.ErrUnexpectedEOF, "cut=%d", cut)
		assert.Contains(t, nextErr.Error(), "decoding event", "cut=%d", cut)
	}
}

func TestCompressionFromPath(t *testing.T) {
	assert.Equal(t, CompressionZstd, CompressionFromPath("run.trace.zst"))
	assert.Equal(t, CompressionZstd, CompressionFromPath("run.ZSTD"))
	assert.Equal(t, CompressionSnappy, CompressionFromPath("/tmp/run.sz"))
	assert.Equal(t, CompressionSnappy, CompressionFromPath("run.snappy"))
	assert.Equal(t, CompressionNone, CompressionFromPath("run.trace"))
	assert.Equal(t, CompressionNone, CompressionFromPath("run"))
}

func TestOpen_DetectsCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.zst")

	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWriter(f, CompressionZstd)
	require.NoError(t, err)

	for _, ev := range sampleEvents() {
		require.NoError(t, w.Write(ev))
	}

	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	r, err := Open(path, "")
	require.NoError(t, err)

	assert.Equal(t, sampleEvents(), readAll(t, r))
	assert.NoError(t, r.Close())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open("/nonexistent/events.trace", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening trace")
}

func TestSliceSource(t *testing.T) {
	src := NewSliceSource(sampleEvents())

	assert.Equal(t, sampleEvents(), readAll(t, src))

	_, err := src.Next()
	assert.Equal(t, io.EOF, err)
}
