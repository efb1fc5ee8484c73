package chunker

import "strings"

// TextWindow is one token-bounded slice of a text source. Text carries the
// full window including the leading overlap; Core is the portion a summary
// fragment should narrate, excluding content the previous window already
// covered.
type TextWindow struct {
	Chunk
	Text string
	Core string
}

// SplitText windows text into at most maxTokens-sized slices at line
// granularity, stepping so consecutive windows share roughly overlapTokens of
// context. Lines are atomic: a single line larger than maxTokens becomes its
// own oversized window, left for the caller to reject.
func SplitText(text string, maxTokens, overlapTokens int) ([]TextWindow, error) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil, &InvalidSourceError{Path: "transcript", Reason: "empty text"}
	}

	// prefix[i] = estimated tokens of lines[0:i]
	prefix := make([]int, len(lines)+1)
	for i, line := range lines {
		prefix[i+1] = prefix[i] + EstimateTokens(line)
	}

	var windows []TextWindow
	start := 0
	prevEnd := 0

	for start < len(lines) {
		end := start + 1
		for end < len(lines) && prefix[end+1]-prefix[start] <= maxTokens {
			end++
		}

		w := TextWindow{
			Chunk: Chunk{
				Index: len(windows),
				Start: float64(prefix[start]),
				End:   float64(prefix[end]),
			},
			Text: strings.Join(lines[start:end], "\n"),
		}
		if len(windows) > 0 {
			w.Overlap = float64(prefix[prevEnd] - prefix[start])
			w.Core = strings.Join(lines[prevEnd:end], "\n")
		} else {
			w.Core = w.Text
		}
		windows = append(windows, w)

		if end >= len(lines) {
			break
		}

		// Back up from end until roughly overlapTokens of trailing context
		// is re-included, always advancing past the previous start.
		next := end
		for next > start+1 && prefix[end]-prefix[next-1] <= overlapTokens {
			next--
		}
		prevEnd = end
		start = next
	}

	return windows, nil
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
