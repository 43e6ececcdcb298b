package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// DefaultDim matches the schema's default fixed vector width (spec's
// "typical: 384").
const DefaultDim = 384

// HashingProvider is a deterministic, model-free embedding: it feature-hashes
// whitespace-tokenized terms of the input text into a fixed-width vector,
// then unit-normalizes it. Semantically weaker than a trained model, but
// deterministic, dependency-free, and enough to exercise the full retrieval
// pipeline (ANN ranking, RRF fusion) without a network call.
type HashingProvider struct {
	dim int
}

// NewHashingProvider constructs a provider with the given output dimension.
func NewHashingProvider(dim int) *HashingProvider {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HashingProvider{dim: dim}
}

func (p *HashingProvider) Dim() int { return p.dim }

func (p *HashingProvider) Encode(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, p.dim)
	for _, term := range tokenize(text) {
		idx, sign := hashTerm(term, p.dim)
		v[idx] += sign
	}
	Normalize(v)
	return v, nil
}

func (p *HashingProvider) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Encode(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// hashTerm maps a token to a bucket index and a +1/-1 sign, the standard
// feature-hashing trick (Weinberger et al.) for collapsing an open
// vocabulary into a fixed-width vector without a learned embedding table.
func hashTerm(term string, dim int) (int, float32) {
	sum := sha256.Sum256([]byte(term))
	idx := int(binary.BigEndian.Uint64(sum[:8]) % uint64(dim))
	sign := float32(1)
	if sum[8]&1 == 1 {
		sign = -1
	}
	return idx, sign
}
