package pipeline

import "fmt"

// Stage names used to tag fatal errors with where the run failed.
const (
	StageChunking      = "chunking"
	StageTranscription = "transcription"
	StageDiarization   = "diarization"
	StageSummarization = "summarization"
)

// StageError tags a fatal failure with the stage it came from.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
