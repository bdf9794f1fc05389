package hash

// Codec teaches the bucket page how to turn a Go value of type T into a
// fixed-width slot and back. The hash table is generic over (Key, Value);
// Go has no portable way to lay out an arbitrary generic struct on a byte
// page, so instead of unsafe pointer casts the table asks the caller for an
// explicit, fixed-size encoding — the same tradeoff BusTub's C++ makes by
// requiring KeyType to be a POD GenericKey<N>.
type Codec[T any] struct {
	// Size is the fixed number of bytes Encode always writes and Decode
	// always reads.
	Size int
	// Encode writes v into the first c.Size bytes of buf.
	Encode func(v T, buf []byte)
	// Decode reconstructs a T from the first c.Size bytes of buf.
	Decode func(buf []byte) T
}

// Int32Codec encodes a plain int32 key or value, little-endian.
func Int32Codec() Codec[int32] {
	return Codec[int32]{
		Size: 4,
		Encode: func(v int32, buf []byte) {
			putUint32(buf, uint32(v))
		},
		Decode: func(buf []byte) int32 {
			return int32(getUint32(buf))
		},
	}
}

// Uint64Codec encodes a plain uint64 key or value, little-endian.
func Uint64Codec() Codec[uint64] {
	return Codec[uint64]{
		Size: 8,
		Encode: func(v uint64, buf []byte) {
			putUint64(buf, v)
		},
		Decode: func(buf []byte) uint64 {
			return getUint64(buf)
		},
	}
}

// Int64Codec encodes a plain int64 key or value, little-endian.
func Int64Codec() Codec[int64] {
	return Codec[int64]{
		Size: 8,
		Encode: func(v int64, buf []byte) {
			putUint64(buf, uint64(v))
		},
		Decode: func(buf []byte) int64 {
			return int64(getUint64(buf))
		},
	}
}

// FixedStringCodec encodes a string into exactly n bytes, truncating or
// zero-padding as needed. Keys longer than n bytes lose their tail, same as
// GenericKey<N> in the original C++: the slot width is a hard contract the
// caller must respect.
func FixedStringCodec(n int) Codec[string] {
	return Codec[string]{
		Size: n,
		Encode: func(v string, buf []byte) {
			clear(buf[:n])
			copy(buf[:n], v)
		},
		Decode: func(buf []byte) string {
			end := 0
			for end < n && buf[end] != 0 {
				end++
			}
			return string(buf[:end])
		},
	}
}

func clear(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func putUint32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func getUint32(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getUint64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}
