// Package embedding defines CORTEX's text-to-vector contract and ships one
// concrete, dependency-free implementation (HashingProvider) so the engine
// is fully functional without a network call or a model file on disk. A
// production deployment is expected to swap in a real model-backed
// Provider; retrieval degrades gracefully to the lexical arm if embedding
// ever fails, so neither provider is load-bearing for correctness.
package embedding

import (
	"context"
	"math"
)

// Provider maps text to a fixed-dimension, unit-norm float32 vector. Dim is
// a construction-time constant that must match the schema's stored vector
// width.
type Provider interface {
	Dim() int
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Normalize rescales v to unit L2 norm in place. A zero vector is returned
// unchanged rather than producing NaNs.
func Normalize(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	norm := math.Sqrt(sumSquares)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
