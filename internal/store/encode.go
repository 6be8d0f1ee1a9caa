package store

import (
	"encoding/binary"
	"math"
)

// embeddingToBytes encodes a vector as little-endian float32s.
func embeddingToBytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// bytesToEmbedding decodes embeddingToBytes output. Trailing bytes that do
// not form a whole float are ignored.
func bytesToEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
