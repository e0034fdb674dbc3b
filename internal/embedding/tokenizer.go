package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// CLIP text encoder constants: context length and special token IDs from the
// 49152-merge BPE vocabulary.
const (
	clipContextLength = 77
	clipVocabSize     = 49408
	clipStartToken    = 49406
	clipEndToken      = 49407
)

// Tokenizer produces padded token IDs for the CLIP text encoder.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) []int64
}

// WordTokenizer is a word-split tokenizer with hash-based token IDs. It is an
// approximation of CLIP's BPE tokenizer: stable and collision-resistant
// enough that distinct queries map to distinct token sequences, which is what
// search quality degrades gracefully on. Export a model with a fused
// tokenizer to get exact CLIP behavior.
type WordTokenizer struct{}

// Tokenize lowercases text, splits it into words, and produces padded token
// IDs up to maxTokens, bracketed by the start and end tokens.
func (t *WordTokenizer) Tokenize(text string, maxTokens int) []int64 {
	if maxTokens <= 0 {
		maxTokens = clipContextLength
	}
	ids := make([]int64, maxTokens)
	ids[0] = clipStartToken
	pos := 1
	for _, word := range splitWords(strings.ToLower(text)) {
		if pos >= maxTokens-1 {
			break
		}
		ids[pos] = hashToken(word)
		pos++
	}
	if pos < maxTokens {
		ids[pos] = clipEndToken
	}
	return ids
}

// hashToken maps a word into the vocabulary range, avoiding the special IDs.
func hashToken(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int64(h.Sum32() % (clipVocabSize - 2))
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}
