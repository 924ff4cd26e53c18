// Package vector implements the deterministic feature-hash embedding
// used for semantic cache lookups and template matching. It is a cheap
// keyword-plus-letter-frequency fingerprint, not a learned model: no
// external calls, bit-identical output for identical input, stable
// across restarts.
package vector

import (
	"math"
	"strings"
)

// Each vocabulary concept is one vector dimension; a token scores the
// dimension when it appears in the concept's term list. Terms may show
// up under more than one concept ("draw" is both a visual term and a
// creation verb).
var vocabulary = []struct {
	concept string
	terms   []string
}{
	{"image", []string{"image", "images", "picture", "pictures", "photo", "photos", "draw", "drawing", "paint", "painting", "sketch", "render", "art", "illustration", "visual", "logo", "avatar", "icon"}},
	{"generate", []string{"generate", "generation", "generating", "create", "creating", "make", "making", "produce", "build", "compose", "write", "draw", "design"}},
	{"chat", []string{"chat", "chatting", "conversation", "message", "messages", "talk", "reply", "respond", "completion", "completions", "assistant", "answer"}},
	{"code", []string{"code", "coding", "program", "script", "function", "debug", "refactor", "compile"}},
	{"summarize", []string{"summarize", "summarise", "summary", "tldr", "condense", "brief", "shorten"}},
	{"translate", []string{"translate", "translation", "language"}},
	{"audio", []string{"audio", "speech", "voice", "transcribe", "transcription", "sound", "music"}},
	{"video", []string{"video", "videos", "clip", "animation"}},
	{"search", []string{"search", "find", "lookup", "query", "retrieve"}},
	{"api", []string{"api", "endpoint", "request", "call", "webhook", "service"}},
	{"openai", []string{"openai", "gpt", "dalle", "whisper"}},
	{"anthropic", []string{"anthropic", "claude"}},
	{"stability", []string{"stability", "stable", "diffusion", "midjourney"}},
	{"embedding", []string{"embed", "embedding", "embeddings", "vector", "similarity"}},
	{"text", []string{"text", "prompt", "document", "content", "article", "poem", "story", "essay"}},
}

// keywordWeight scales vocabulary hits relative to single-letter
// frequencies so that a shared domain term dominates incidental
// character overlap.
const keywordWeight = 5.0

// Dimensions is the fixed embedding length: one per vocabulary concept
// plus 26 letter-frequency slots.
var Dimensions = len(vocabulary) + 26

var termIndex = buildTermIndex()

func buildTermIndex() map[string][]int {
	idx := make(map[string][]int)
	for i, entry := range vocabulary {
		for _, term := range entry.terms {
			idx[term] = append(idx[term], i)
		}
	}
	return idx
}

// Embed converts text into an L2-normalized feature vector. The zero
// vector is returned unchanged when the text carries no signal.
func Embed(text string) []float64 {
	v := make([]float64, Dimensions)
	cleaned := clean(text)

	for _, token := range strings.Fields(cleaned) {
		for _, dim := range termIndex[token] {
			v[dim] += keywordWeight
		}
	}

	letterBase := len(vocabulary)
	for _, r := range cleaned {
		if r >= 'a' && r <= 'z' {
			v[letterBase+int(r-'a')]++
		}
	}

	return normalize(v)
}

// Similarity is the cosine similarity of two vectors. Zero-magnitude
// vectors and length mismatches score 0 rather than erroring.
func Similarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// clean lowercases and strips everything but letters, digits and
// whitespace.
func clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\t', r == '\n', r == '\r':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	mag := math.Sqrt(sum)
	for i := range v {
		v[i] /= mag
	}
	return v
}
