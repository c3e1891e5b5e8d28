// Package bloom provides the probabilistic existence pre-check used by the
// triple index manager.
//
// The filter answers "was this composite key ever added?" with one-sided
// error: a negative answer is always correct, a positive answer may be a
// false positive. Pattern queries use a negative to return an empty result
// without touching the indexes.
//
// The filter is append-only. Removing a quad from the store never clears
// bits, so stale positives can accumulate; that only costs an index probe,
// never a wrong negative.
package bloom

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrCorrupted indicates serialized filter data is invalid.
var ErrCorrupted = errors.New("bloom: corrupted filter data")

// Filter is a classic Bloom filter over string keys.
type Filter struct {
	bits    []uint64
	numBits uint64
	k       uint32
	count   uint64
}

// Size computes filter dimensions for an expected element count and target
// false positive rate. Returns the bit count (word aligned) and the number
// of hash functions.
func Size(expectedElements int, falsePositiveRate float64) (numBits uint64, k uint32) {
	if expectedElements <= 0 {
		expectedElements = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	// m = -n*ln(p) / ln(2)^2, k = (m/n) * ln(2)
	m := float64(-expectedElements) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)
	kf := m / float64(expectedElements) * math.Ln2

	numBits = ((uint64(m) + 63) / 64) * 64
	if numBits < 64 {
		numBits = 64
	}
	k = uint32(math.Ceil(kf))
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	return numBits, k
}

// New creates a filter with explicit dimensions. Inputs are clamped to the
// same bounds Size produces.
func New(numBits uint64, k uint32) *Filter {
	if numBits < 64 {
		numBits = 64
	}
	numBits = ((numBits + 63) / 64) * 64
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	return &Filter{
		bits:    make([]uint64, numBits/64),
		numBits: numBits,
		k:       k,
	}
}

// NewForCapacity creates a filter sized for the expected element count at
// roughly a 1% false positive rate.
func NewForCapacity(expectedElements int) *Filter {
	numBits, k := Size(expectedElements, 0.01)
	return New(numBits, k)
}

// Add inserts a key. After Add(x), MayContain(x) returns true for the
// lifetime of the filter.
func (f *Filter) Add(key string) {
	h1, h2 := doubleHash(key)
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.numBits
		f.bits[bit/64] |= 1 << (bit % 64)
	}
	f.count++
}

// MayContain reports whether the key might have been added. False means
// definitely absent.
func (f *Filter) MayContain(key string) bool {
	h1, h2 := doubleHash(key)
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.numBits
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of keys added.
func (f *Filter) Count() uint64 { return f.count }

// SizeBytes returns the memory footprint of the bit array.
func (f *Filter) SizeBytes() int { return len(f.bits) * 8 }

// EstimatedFalsePositiveRate derives the expected FPR from the current
// fill: (1 - e^(-k*n/m))^k.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	kn := float64(f.k) * float64(f.count)
	return math.Pow(1-math.Exp(-kn/float64(f.numBits)), float64(f.k))
}

// Clear resets the filter to empty. Used only on full store shutdown,
// never on quad removal.
func (f *Filter) Clear() {
	for i := range f.bits {
		f.bits[i] = 0
	}
	f.count = 0
}

// WriteTo serializes the filter: a 20-byte header (numBits, k, count)
// followed by the little-endian bit words.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	var written int64

	header := make([]byte, 20)
	binary.LittleEndian.PutUint64(header[0:8], f.numBits)
	binary.LittleEndian.PutUint32(header[8:12], f.k)
	binary.LittleEndian.PutUint64(header[12:20], f.count)

	n, err := w.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	buf := make([]byte, 8)
	for _, word := range f.bits {
		binary.LittleEndian.PutUint64(buf, word)
		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Read deserializes a filter written by WriteTo.
func Read(r io.Reader) (*Filter, error) {
	header := make([]byte, 20)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	numBits := binary.LittleEndian.Uint64(header[0:8])
	k := binary.LittleEndian.Uint32(header[8:12])
	count := binary.LittleEndian.Uint64(header[12:20])

	if numBits < 64 || numBits%64 != 0 {
		return nil, ErrCorrupted
	}
	if k < 1 || k > 16 {
		return nil, ErrCorrupted
	}

	bits := make([]uint64, numBits/64)
	buf := make([]byte, 8)
	for i := range bits {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		bits[i] = binary.LittleEndian.Uint64(buf)
	}

	return &Filter{bits: bits, numBits: numBits, k: k, count: count}, nil
}

// doubleHash computes two independent FNV-1a variants of the key, used to
// derive k probe positions as h1 + i*h2.
func doubleHash(s string) (h1, h2 uint64) {
	const (
		fnvOffset = 14695981039346656037
		fnvPrime  = 1099511628211
	)

	h1 = fnvOffset
	for i := 0; i < len(s); i++ {
		h1 ^= uint64(s[i])
		h1 *= fnvPrime
	}

	h2 = fnvOffset ^ 0x5555555555555555
	for i := len(s) - 1; i >= 0; i-- {
		h2 ^= uint64(s[i])
		h2 *= fnvPrime
	}
	h2 |= 1

	return h1, h2
}
