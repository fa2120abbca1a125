package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashingDimension is the vector size of the offline model.
const DefaultHashingDimension = 384

// HashingModel is a deterministic bag-of-words model: each lowercased word is
// hashed into one of Dimension buckets with a hash-derived sign. It needs no
// network and gives texts sharing words a positive similarity, which makes it
// the offline default and a stable test double.
type HashingModel struct {
	dimension int
}

// NewHashingModel creates a HashingModel. Non-positive dimensions use the default.
func NewHashingModel(dimension int) *HashingModel {
	if dimension <= 0 {
		dimension = DefaultHashingDimension
	}
	return &HashingModel{dimension: dimension}
}

// Name returns the model identifier.
func (m *HashingModel) Name() string { return fmt.Sprintf("hashing-%d", m.dimension) }

// Dimension returns the vector size.
func (m *HashingModel) Dimension() int { return m.dimension }

// Encode hashes every text. Texts without words map to the zero vector.
func (m *HashingModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.encode(text)
	}
	return out, nil
}

func (m *HashingModel) encode(text string) []float32 {
	vec := make([]float32, m.dimension)
	for _, word := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(word))
		sum := h.Sum64()

		bucket := int(sum % uint64(m.dimension))
		if sum>>63 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
