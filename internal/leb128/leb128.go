// Package leb128 implements LEB128 variable-length integer encoding used throughout the Wasm
// binary format (constant expressions, section sizes, indices). Two decoding styles are
// provided: the Decode* family reads from an io.Reader (used while streaming a module), and the
// Load* family reads directly from a []byte with no allocation (used on the hot compile path
// for operand immediates already held in memory).
//
// Grounded on wazero's internal/leb128 package (same public names, same zero-alloc
// requirement enforced by leb128_alloc_test.go).
package leb128

import (
	"errors"
	"io"
)

const (
	maxVarintLen32 = 5
	maxVarintLen64 = 10
)

// EncodeUint32 encodes v as an unsigned LEB128 byte sequence.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 encodes v as an unsigned LEB128 byte sequence.
func EncodeUint64(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// EncodeInt32 encodes v as a signed LEB128 byte sequence.
func EncodeInt32(v int32) []byte { return EncodeInt64(int64(v)) }

// EncodeInt64 encodes v as a signed LEB128 byte sequence.
func EncodeInt64(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

var errOverflow32 = errors.New("leb128: varint overflows a 32-bit integer")
var errOverflow64 = errors.New("leb128: varint overflows a 64-bit integer")

// LoadUint32 decodes an unsigned 32-bit LEB128 value directly from buf, returning the value,
// the number of bytes consumed, and an error if buf is malformed or the value overflows.
func LoadUint32(buf []byte) (uint32, uint64, error) {
	var result uint64
	var shift uint
	for i, b := range buf {
		if i >= maxVarintLen32 {
			return 0, 0, errOverflow32
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if shift >= 28 && b > 0xf {
				return 0, 0, errOverflow32
			}
			return uint32(result), uint64(i + 1), nil
		}
		shift += 7
	}
	return 0, 0, io.ErrUnexpectedEOF
}

// LoadUint64 decodes an unsigned 64-bit LEB128 value directly from buf.
func LoadUint64(buf []byte) (uint64, uint64, error) {
	var result uint64
	var shift uint
	for i, b := range buf {
		if i >= maxVarintLen64 {
			return 0, 0, errOverflow64
		}
		if shift == 63 && b > 1 {
			return 0, 0, errOverflow64
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, uint64(i + 1), nil
		}
		shift += 7
	}
	return 0, 0, io.ErrUnexpectedEOF
}

// LoadInt32 decodes a signed 32-bit LEB128 value directly from buf.
func LoadInt32(buf []byte) (int32, uint64, error) {
	var result int64
	var shift uint
	var b byte
	var i int
	for i = 0; i < len(buf); i++ {
		if i >= maxVarintLen32 {
			return 0, 0, errOverflow32
		}
		b = buf[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if i == len(buf) {
		return 0, 0, io.ErrUnexpectedEOF
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	if result > 0x7fffffff || result < -0x80000000 {
		return 0, 0, errOverflow32
	}
	return int32(result), uint64(i + 1), nil
}

// LoadInt64 decodes a signed 64-bit LEB128 value directly from buf.
func LoadInt64(buf []byte) (int64, uint64, error) {
	var result int64
	var shift uint
	var b byte
	var i int
	for i = 0; i < len(buf); i++ {
		if i >= maxVarintLen64 {
			return 0, 0, errOverflow64
		}
		b = buf[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if i == len(buf) {
		return 0, 0, io.ErrUnexpectedEOF
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, uint64(i + 1), nil
}

// DecodeUint32 decodes an unsigned 32-bit LEB128 value from r.
func DecodeUint32(r io.ByteReader) (uint32, uint64, error) {
	v, n, err := decodeUint64(r, maxVarintLen32)
	return uint32(v), n, err
}

// DecodeInt32 decodes a signed 32-bit LEB128 value from r.
func DecodeInt32(r io.ByteReader) (int32, uint64, error) {
	v, n, err := decodeInt64(r, maxVarintLen32)
	if err != nil {
		return 0, 0, err
	}
	if v > 0x7fffffff || v < -0x80000000 {
		return 0, 0, errOverflow32
	}
	return int32(v), n, nil
}

// DecodeInt64 decodes a signed 64-bit LEB128 value from r.
func DecodeInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeInt64(r, maxVarintLen64)
}

// DecodeInt33AsInt64 decodes a signed 33-bit LEB128 value (the widest block-type immediate in
// the Wasm multi-value proposal) into an int64.
func DecodeInt33AsInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeInt64(r, 5)
}

func decodeUint64(r io.ByteReader, maxLen int) (uint64, uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, uint64(i + 1), nil
		}
		shift += 7
	}
	return 0, 0, errOverflow64
}

func decodeInt64(r io.ByteReader, maxLen int) (int64, uint64, error) {
	var result int64
	var shift uint
	var i int
	var b byte
	var err error
	for i = 0; i < maxLen; i++ {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if i == maxLen && b&0x80 != 0 {
		return 0, 0, errOverflow64
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, uint64(i + 1), nil
}
