package wipe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorConstantPatterns(t *testing.T) {
	g, err := NewGenerator(Policy{Passes: []PassSpec{{Pattern: PatternZero}, {Pattern: PatternOne}, {Pattern: PatternComplement}}}, 64)
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, g.Fill(0, 128, buf))
	assert.Equal(t, bytes.Repeat([]byte{0x00}, 64), buf)
	require.NoError(t, g.Fill(1, 128, buf))
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 64), buf)
	require.NoError(t, g.Final(128, buf))
	assert.Equal(t, bytes.Repeat([]byte{0x00}, 64), buf)

	assert.True(t, g.constant(2))
	assert.Error(t, g.Fill(3, 0, buf))
}

func TestGeneratorRandomIsDeterministic(t *testing.T) {
	policy := Policy{Seed: 7, Passes: []PassSpec{{Pattern: PatternRandom}, {Pattern: PatternRandom}, {Pattern: PatternComplement}}}
	g1, err := NewGenerator(policy, 256)
	require.NoError(t, err)
	g2, err := NewGenerator(policy, 256)
	require.NoError(t, err)

	a, b := make([]byte, 256), make([]byte, 256)
	require.NoError(t, g1.Fill(0, 512, a))
	require.NoError(t, g2.Fill(0, 512, b))
	assert.Equal(t, a, b, "same seed, pass and offset")
	assert.NotEqual(t, make([]byte, 256), a)

	require.NoError(t, g1.Fill(0, 768, b))
	assert.NotEqual(t, a, b, "blocks differ")

	require.NoError(t, g1.Fill(1, 512, b))
	assert.NotEqual(t, a, b, "passes differ")
	assert.False(t, g1.constant(1))

	c := make([]byte, 256)
	require.NoError(t, g1.Fill(2, 512, c))
	for i := range c {
		require.Equal(t, ^b[i], c[i])
	}

	other, err := NewGenerator(Policy{Seed: 8, Passes: policy.Passes}, 256)
	require.NoError(t, err)
	require.NoError(t, other.Fill(0, 512, b))
	assert.NotEqual(t, a, b, "seeds differ")
}

func TestGeneratorPassSeedOverride(t *testing.T) {
	withOverride, err := NewGenerator(Policy{Seed: 1, Passes: []PassSpec{{Pattern: PatternRandom, Seed: 7, HasSeed: true}}}, 32)
	require.NoError(t, err)
	plain, err := NewGenerator(Policy{Seed: 7, Passes: []PassSpec{{Pattern: PatternRandom}}}, 32)
	require.NoError(t, err)

	a, b := make([]byte, 32), make([]byte, 32)
	require.NoError(t, withOverride.Fill(0, 0, a))
	require.NoError(t, plain.Fill(0, 0, b))
	assert.Equal(t, a, b)
}

func TestSampleBlocks(t *testing.T) {
	assert.Nil(t, SampleBlocks(10, VerificationSpec{Mode: VerifyNone}))
	assert.Equal(t, []int64{0}, SampleBlocks(1, VerificationSpec{Mode: VerifySampled, Fraction: 0.1}))
	assert.Equal(t, []int64{0, 1, 2, 3}, SampleBlocks(4, VerificationSpec{Mode: VerifyFull}))
	assert.Equal(t, []int64{0, 99}, SampleBlocks(100, VerificationSpec{Mode: VerifySampled, Fraction: 0.01}))

	got := SampleBlocks(2560, VerificationSpec{Mode: VerifySampled, Fraction: 0.1})
	require.Len(t, got, 256)
	assert.Equal(t, int64(0), got[0])
	assert.Equal(t, int64(2559), got[len(got)-1])
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
}
