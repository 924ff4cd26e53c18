package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedDeterministic(t *testing.T) {
	texts := []string{
		"generate an image of a sunset",
		"Chat with the assistant!",
		"",
		"   punctuation, everywhere!!! ...",
	}
	for _, text := range texts {
		a := Embed(text)
		b := Embed(text)
		assert.Equal(t, a, b, "embed must be bit-identical for %q", text)
	}
}

func TestEmbedLength(t *testing.T) {
	assert.Len(t, Embed("anything at all"), Dimensions)
	assert.Len(t, Embed(""), Dimensions)
}

func TestEmbedZeroVector(t *testing.T) {
	// No letters, no keywords: nothing to normalize.
	v := Embed("!!! ??? 123")
	for i, x := range v {
		if x != 0 && i >= len(vocabulary) {
			t.Fatalf("dimension %d = %f, want 0", i, x)
		}
	}
	assert.Equal(t, 0.0, Similarity(v, v))
}

func TestEmbedNormalized(t *testing.T) {
	v := Embed("generate a poem about the sea")
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestSimilaritySelf(t *testing.T) {
	v := Embed("draw me a picture of a castle")
	assert.InDelta(t, 1.0, Similarity(v, v), 1e-9)
}

func TestSimilaritySymmetric(t *testing.T) {
	a := Embed("image generation")
	b := Embed("chat completion")
	assert.Equal(t, Similarity(a, b), Similarity(b, a))
}

func TestSimilarityLengthMismatch(t *testing.T) {
	assert.Equal(t, 0.0, Similarity([]float64{1, 0}, []float64{1, 0, 0}))
}

func TestSimilarityZeroMagnitude(t *testing.T) {
	zero := make([]float64, Dimensions)
	v := Embed("generate an image")
	assert.Equal(t, 0.0, Similarity(zero, v))
}

func TestRelatedIntentsScoreHigh(t *testing.T) {
	intent := Embed("draw me a cat")
	image := Embed("image generation")
	chat := Embed("chat completion")

	imageScore := Similarity(intent, image)
	chatScore := Similarity(intent, chat)

	require.Greater(t, imageScore, chatScore)
	assert.GreaterOrEqual(t, imageScore, 0.75)
	assert.Less(t, chatScore, 0.5)
}

func TestOrderIndependentTokens(t *testing.T) {
	a := Embed("generate image now")
	b := Embed("now image generate")
	assert.InDelta(t, 1.0, Similarity(a, b), 1e-9)
}
