// Package rag implements the ask pipeline: page text in, grounded
// answer out.
package rag

const (
	// DefaultChunkSize is the window size in bytes.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is how many bytes consecutive windows share.
	DefaultChunkOverlap = 200
)

// Chunk splits text into overlapping windows of at most size bytes,
// each starting overlap bytes before the previous one ended. Empty text
// yields nil. Window parameters are programmer input, so bad values
// panic rather than error.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		panic("rag: chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		panic("rag: chunk overlap must be in [0, size)")
	}
	if text == "" {
		return nil
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}
