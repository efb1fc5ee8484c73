// Package provider abstracts the remote transcription and text-generation
// capabilities behind two small interfaces so any vendor can be substituted
// without touching pipeline logic.
package provider

import "context"

// Segment is one timed span of transcribed speech. Speaker is empty when the
// provider does not attribute it.
type Segment struct {
	Speaker string
	Text    string
	Start   float64
	End     float64
}

// HasTiming reports whether the segment carries timestamps.
func (s Segment) HasTiming() bool { return s.Start >= 0 }

// Transcriber turns one audio file into transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]Segment, error)
}

// Generator produces text for a prompt, bounded by maxTokens of output.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}
