package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	sim, ok := Cosine([]float32{1, 0}, []float32{2, 0})
	require.True(t, ok)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, ok = Cosine([]float32{1, 0}, []float32{0, 3})
	require.True(t, ok)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, ok = Cosine([]float32{1, 0}, []float32{-1, 0})
	require.True(t, ok)
	assert.InDelta(t, -1.0, sim, 1e-9)

	_, ok = Cosine([]float32{0, 0}, []float32{1, 0})
	assert.False(t, ok, "zero magnitude must be excluded")

	_, ok = Cosine([]float32{1, 0}, []float32{1, 0, 0})
	assert.False(t, ok, "length mismatch must be excluded")

	_, ok = Cosine(nil, nil)
	assert.False(t, ok)
}

func TestRank(t *testing.T) {
	candidates := []Candidate{
		{Index: 0, Vector: []float32{0, 1, 0}},
		{Index: 1, Vector: []float32{0.9, 0.1, 0}},
		{Index: 2, Vector: []float32{1, 0, 0}},
		{Index: 3, Vector: []float32{0, 0, 0}},
		{Index: 4, Vector: []float32{1, 0, 0}},
	}
	got := Rank([]float32{1, 0, 0}, candidates, 0.5, 10)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].Index)
	assert.Equal(t, 4, got[1].Index, "ties keep candidate order")
	assert.Equal(t, 1, got[2].Index)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity)
	}
	for _, m := range got {
		assert.GreaterOrEqual(t, m.Similarity, 0.5)
	}

	top := Rank([]float32{1, 0, 0}, candidates, 0, 1)
	require.Len(t, top, 1)
	assert.Equal(t, 2, top[0].Index)

	assert.Empty(t, Rank([]float32{1, 0, 0}, nil, 0, 5))
	assert.Empty(t, Rank([]float32{1, 0, 0}, candidates, 0, 0))
}

func TestEncodeDecode(t *testing.T) {
	orig := []float32{0, 1.5, -2.25, float32(math.Pi)}
	decoded, err := Decode(Encode(orig))
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)

	assert.Nil(t, Encode(nil))
	vec, err := Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, vec)

	_, err = Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestL2NormAndInnerProduct(t *testing.T) {
	assert.InDelta(t, 5.0, L2Norm([]float32{3, 4}), 1e-9)
	assert.InDelta(t, 11.0, InnerProduct([]float32{1, 2}, []float32{3, 4}), 1e-9)
	assert.Equal(t, 0.0, InnerProduct([]float32{1}, []float32{1, 2}))
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, Normalize(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, L2Norm(v), 1e-6)

	zero := []float32{0, 0}
	assert.False(t, Normalize(zero))
	assert.Equal(t, []float32{0, 0}, zero)
}
