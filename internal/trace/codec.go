package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Compression type constants.
const (
	CompressionNone   = "none"
	CompressionZstd   = "zstd"
	CompressionSnappy = "snappy"
)

// ValidCompression reports whether c names a supported compression.
// The empty string means detect from the file extension.
func ValidCompression(c string) bool {
	switch c {
	case "", CompressionNone, CompressionZstd, CompressionSnappy:
		return true
	default:
		return false
	}
}

// CompressionFromPath picks the compression for a trace file by extension:
// .zst is zstd, .sz is framed snappy, anything else is uncompressed.
func CompressionFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return CompressionZstd
	case ".sz", ".snappy":
		return CompressionSnappy
	default:
		return CompressionNone
	}
}

// Source yields recorded events in call order. Next returns io.EOF after
// the last event.
type Source interface {
	Next() (Event, error)
}

// Reader decodes a msgpack event stream.
type Reader struct {
	dec     *msgpack.Decoder
	closers []func() error
}

var _ Source = (*Reader)(nil)

// NewReader creates a Reader over r using the given compression.
// Closing the Reader does not close r.
func NewReader(r io.Reader, compression string) (*Reader, error) {
	rd := &Reader{}

	switch compression {
	case CompressionNone, "":
		r = bufio.NewReaderSize(r, 256*1024)
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}

		rd.closers = append(rd.closers, func() error {
			zr.Close()

			return nil
		})
		r = zr
	case CompressionSnappy:
		r = snappy.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", compression)
	}

	rd.dec = msgpack.NewDecoder(r)

	return rd, nil
}

// Open opens a trace file, detecting compression from its extension when
// compression is empty.
func Open(path, compression string) (*Reader, error) {
	if compression == "" {
		compression = CompressionFromPath(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace %s: %w", path, err)
	}

	rd, err := NewReader(f, compression)
	if err != nil {
		_ = f.Close()

		return nil, err
	}

	rd.closers = append(rd.closers, f.Close)

	return rd, nil
}

// Next decodes the next event. It returns io.EOF only when the stream
// ends on an event boundary; a stream cut off inside an event yields an
// error wrapping io.ErrUnexpectedEOF.
func (r *Reader) Next() (Event, error) {
	if _, err := r.dec.PeekCode(); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}

		return Event{}, fmt.Errorf("decoding event: %w", err)
	}

	var ev Event

	if err := r.dec.Decode(&ev); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return Event{}, fmt.Errorf("decoding event: %w", err)
	}

	return ev, nil
}

// Close releases the decoder and, for readers created by Open, the file.
func (r *Reader) Close() error {
	var errs []error

	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}

	r.closers = nil

	return errors.Join(errs...)
}

// Writer encodes events as a msgpack stream.
type Writer struct {
	enc   *msgpack.Encoder
	flush []func() error
}

// NewWriter creates a Writer over w using the given compression.
// Close must be called to flush buffered data; it does not close w.
func NewWriter(w io.Writer, compression string) (*Writer, error) {
	wr := &Writer{}

	switch compression {
	case CompressionNone, "":
		bw := bufio.NewWriterSize(w, 256*1024)
		wr.flush = append(wr.flush, bw.Flush)
		w = bw
	case CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		wr.flush = append(wr.flush, zw.Close)
		w = zw
	case CompressionSnappy:
		sw := snappy.NewBufferedWriter(w)
		wr.flush = append(wr.flush, sw.Close)
		w = sw
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", compression)
	}

	wr.enc = msgpack.NewEncoder(w)

	return wr, nil
}

// Write encodes one event.
func (w *Writer) Write(ev Event) error {
	if err := w.enc.Encode(&ev); err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	return nil
}

// Close flushes all buffered data.
func (w *Writer) Close() error {
	var errs []error

	for _, f := range w.flush {
		if err := f(); err != nil {
			errs = append(errs, err)
		}
	}

	w.flush = nil

	return errors.Join(errs...)
}

// SliceSource replays a fixed list of events.
type SliceSource struct {
	events []Event
	pos    int
}

var _ Source = (*SliceSource)(nil)

// NewSliceSource creates a Source over events.
func NewSliceSource(events []Event) *SliceSource {
	return &SliceSource{events: events}
}

// Next returns the next event or io.EOF.
func (s *SliceSource) Next() (Event, error) {
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}

	ev := s.events[s.pos]
	s.pos++

	return ev, nil
}
