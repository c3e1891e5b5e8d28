// Package snapshot frames full store exports for the downstream
// serializer/canonical-hash collaborators.
//
// A snapshot is a self-describing stream: a fixed header records the
// codec name and compression algorithm, so any reader can decode a stream
// produced with different settings. The engine never touches disk itself;
// callers supply the io.Writer/io.Reader.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/rdfkit/quadgo/codec"
	"github.com/rdfkit/quadgo/rdf"
)

// Compression selects the stream compression algorithm.
type Compression uint8

const (
	// CompressionNone stores records uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 favors encode speed (hot export paths).
	CompressionLZ4 Compression = 1
	// CompressionZSTD favors ratio (archival exports).
	CompressionZSTD Compression = 2
)

// String returns the compression algorithm name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

var (
	magic   = [4]byte{'Q', 'G', 'S', '0'}
	version = uint16(1)

	// ErrBadHeader indicates the stream is not a quadgo snapshot or uses
	// an unsupported version/codec/compression.
	ErrBadHeader = errors.New("snapshot: invalid header")
)

// Write frames the quads into w. A nil codec falls back to codec.Default.
func Write(w io.Writer, quads []rdf.Quad, c codec.Codec, comp Compression) error {
	if c == nil {
		c = codec.Default
	}

	if err := writeHeader(w, c.Name(), comp); err != nil {
		return err
	}

	body, closeBody, err := compressedWriter(w, comp)
	if err != nil {
		return err
	}
	// The zstd encoder owns goroutines and buffers; release them even
	// when a mid-stream write fails.
	closed := false
	defer func() {
		if !closed {
			closeBody()
		}
	}()

	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], uint64(len(quads)))
	if _, err := body.Write(count[:]); err != nil {
		return err
	}

	var lenBuf [4]byte
	for _, q := range quads {
		rec, err := c.Marshal(q)
		if err != nil {
			return fmt.Errorf("snapshot: encode quad: %w", err)
		}
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec)))
		if _, err := body.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := body.Write(rec); err != nil {
			return err
		}
	}

	closed = true
	return closeBody()
}

// Read decodes a stream written by Write.
func Read(r io.Reader) ([]rdf.Quad, error) {
	c, comp, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	body, closeBody, err := compressedReader(r, comp)
	if err != nil {
		return nil, err
	}
	defer closeBody()

	var count [8]byte
	if _, err := io.ReadFull(body, count[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(count[:])

	quads := make([]rdf.Quad, 0, n)
	var lenBuf [4]byte
	for i := uint64(0); i < n; i++ {
		if _, err := io.ReadFull(body, lenBuf[:]); err != nil {
			return nil, err
		}
		rec := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(body, rec); err != nil {
			return nil, err
		}
		var q rdf.Quad
		if err := c.Unmarshal(rec, &q); err != nil {
			return nil, fmt.Errorf("snapshot: decode quad %d: %w", i, err)
		}
		quads = append(quads, q)
	}
	return quads, nil
}

// writeHeader emits: magic(4) version(2) compression(1) codecNameLen(1)
// codecName.
func writeHeader(w io.Writer, codecName string, comp Compression) error {
	if comp > CompressionZSTD {
		return fmt.Errorf("%w: compression %d", ErrBadHeader, comp)
	}
	if len(codecName) > 255 {
		return fmt.Errorf("%w: codec name too long", ErrBadHeader)
	}

	buf := make([]byte, 0, 8+len(codecName))
	buf = append(buf, magic[:]...)
	var fixed [4]byte
	binary.LittleEndian.PutUint16(fixed[0:2], version)
	fixed[2] = byte(comp)
	fixed[3] = byte(len(codecName))
	buf = append(buf, fixed[:]...)
	buf = append(buf, codecName...)

	_, err := w.Write(buf)
	return err
}

func readHeader(r io.Reader) (codec.Codec, Compression, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, 0, err
	}
	if m != magic {
		return nil, 0, fmt.Errorf("%w: bad magic", ErrBadHeader)
	}

	var fixed [4]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, 0, err
	}
	if v := binary.LittleEndian.Uint16(fixed[0:2]); v != version {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, v)
	}
	comp := Compression(fixed[2])
	if comp > CompressionZSTD {
		return nil, 0, fmt.Errorf("%w: unknown compression %d", ErrBadHeader, fixed[2])
	}

	name := make([]byte, fixed[3])
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, 0, err
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown codec %q", ErrBadHeader, name)
	}
	return c, comp, nil
}

// compressedWriter wraps w per the compression tag; the returned close
// function flushes the compressor without closing w.
func compressedWriter(w io.Writer, comp Compression) (io.Writer, func() error, error) {
	switch comp {
	case CompressionLZ4:
		zw := lz4.NewWriter(w)
		return zw, zw.Close, nil
	case CompressionZSTD:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, nil, err
		}
		return zw, zw.Close, nil
	default:
		return w, func() error { return nil }, nil
	}
}

func compressedReader(r io.Reader, comp Compression) (io.Reader, func(), error) {
	switch comp {
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CompressionZSTD:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr.IOReadCloser(), zr.Close, nil
	default:
		return r, func() {}, nil
	}
}
