package utils

// SplitChunks cuts text into consecutive pieces of at most size characters
// (runes). Boundaries fall wherever the count lands, words are not kept
// together. Empty text yields no chunks.
func SplitChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	chunks := make([]string, 0, len(text)/size+1)
	count := 0
	start := 0
	for i := range text {
		if count == size {
			chunks = append(chunks, text[start:i])
			start = i
			count = 0
		}
		count++
	}
	return append(chunks, text[start:])
}
