// Package chunker splits audio sources into time-bounded segments and text
// sources into token-bounded windows, each with overlap for continuity.
// Overlapped content is deduplicated downstream by the merger, never here.
package chunker

import "fmt"

// InvalidSourceError reports an empty or unreadable source, detected before
// any remote call is made.
type InvalidSourceError struct {
	Path   string
	Reason string
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid source %s: %s", e.Path, e.Reason)
}

// Chunk is an ordered, bounded slice of a source. Offsets are in source
// units: seconds for audio, estimated tokens for text.
type Chunk struct {
	Index   int
	Start   float64
	End     float64
	Overlap float64
}

// plan covers [0, total] with windows of at most max units, stepping by
// max-overlap so consecutive chunks share the configured overlap. A source
// that fits in one window yields a single chunk with zero overlap. The
// overlap must leave a positive step or the plan cannot advance.
func plan(total, max, overlap float64) ([]Chunk, error) {
	if total <= max {
		return []Chunk{{Index: 0, Start: 0, End: total}}, nil
	}

	step := max - overlap
	if step <= 0 {
		return nil, fmt.Errorf("overlap %.3gs must be smaller than the effective chunk ceiling %.3gs", overlap, max)
	}
	var chunks []Chunk
	for start := 0.0; ; start += step {
		end := start + max
		if end > total {
			end = total
		}
		c := Chunk{Index: len(chunks), Start: start, End: end}
		if c.Index > 0 {
			c.Overlap = overlap
		}
		chunks = append(chunks, c)
		if end >= total {
			return chunks, nil
		}
	}
}

// EstimateTokens approximates the token count of text as one token per four
// bytes, the rule of thumb the hosted models document. Estimates stay on the
// conservative side together with the stage-level safety margin.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
