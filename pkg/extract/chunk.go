package extract

const (
	// ChunkWindow is the chunk length in runes.
	ChunkWindow = 1000
	// ChunkOverlap is how many trailing runes each chunk shares with the
	// next one, so sentences cut at a boundary survive in one piece.
	ChunkOverlap = 200
)

// Chunks splits text into fixed windows of ChunkWindow runes advancing by
// ChunkWindow-ChunkOverlap. Chunks are exact substrings, never trimmed or
// padded, so the original text is reconstructible by dropping the first
// ChunkOverlap runes of every chunk after the first.
func Chunks(text string) []string {
	return ChunksWith(text, ChunkWindow, ChunkOverlap)
}

// ChunksWith is Chunks with an explicit window and overlap. overlap must be
// smaller than window; callers violating that get a single whole-text chunk.
func ChunksWith(text string, window, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if window <= 0 || overlap < 0 || overlap >= window || len(runes) <= window {
		return []string{text}
	}
	step := window - overlap
	chunks := make([]string, 0, (len(runes)-overlap+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + window
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
