package embedindex

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorRoundTrip(t *testing.T) {
	vectors := [][]float32{
		{1.5, -2.25, 3.125},
		{0},
		{math.MaxFloat32, -math.MaxFloat32, math.SmallestNonzeroFloat32},
		{0.1, 0.2, 0.3, 0.4, 0.5},
	}

	for _, v := range vectors {
		got := DeserializeVector(SerializeVector(v))
		require.Len(t, got, len(v))
		for i := range v {
			assert.InDelta(t, v[i], got[i], 1e-6)
		}
	}
}

func TestVectorRoundTripEmpty(t *testing.T) {
	assert.Empty(t, DeserializeVector(SerializeVector(nil)))
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOpposite(t *testing.T) {
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{-1, -2, -3}), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{0, 0}))
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
}
