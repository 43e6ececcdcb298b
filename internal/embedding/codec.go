package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector serializes v as little-endian float32 bytes for storage in
// fact_embeddings.embedding. The schema keeps dims alongside the blob, so
// the blob itself carries no length prefix.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// DecodeVector is EncodeVector's inverse. dims must match the number of
// float32 values encoded in blob.
func DecodeVector(blob []byte, dims int) ([]float32, error) {
	if len(blob) != dims*4 {
		return nil, fmt.Errorf("decode vector: expected %d bytes for dims=%d, got %d", dims*4, dims, len(blob))
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
