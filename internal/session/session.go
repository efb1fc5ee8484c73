package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// SourceKind identifies what kind of input a session was created from.
type SourceKind string

const (
	SourceAudio SourceKind = "audio"
	SourceText  SourceKind = "text"
)

// DetailLevel selects summary prompt verbosity, not control flow.
type DetailLevel string

const (
	DetailBrief    DetailLevel = "brief"
	DetailStandard DetailLevel = "standard"
	DetailDetailed DetailLevel = "detailed"
)

// Session is the unit of work. Created at invocation start, discarded at
// process end; never persisted between runs.
type Session struct {
	ID           string
	Kind         SourceKind
	SourcePath   string
	Detail       DetailLevel
	SpeakerNames []string
}

// New creates a Session for the given source.
func New(kind SourceKind, sourcePath string, detail DetailLevel, speakerNames []string) *Session {
	return &Session{
		ID:           uuid.New().String(),
		Kind:         kind,
		SourcePath:   sourcePath,
		Detail:       detail,
		SpeakerNames: speakerNames,
	}
}

// Utterance is one speaker turn. Speaker is empty when unknown. Start and End
// are seconds from session start; negative when the source carried no timing.
type Utterance struct {
	Speaker string
	Text    string
	Start   float64
	End     float64
}

// HasTiming reports whether the utterance carries timestamps.
func (u Utterance) HasTiming() bool { return u.Start >= 0 }

// TranscriptFragment is the transcription output for one audio chunk.
// Utterance times are relative to the chunk until the merger rebases them.
type TranscriptFragment struct {
	ChunkIndex int
	Utterances []Utterance
}

// DiarizedTranscript is the ordered merge of all fragments with a stable
// speaker label alphabet.
type DiarizedTranscript struct {
	Utterances []Utterance
	// Speakers lists labels in allocation order. Labels are never reused for
	// two distinct underlying speakers within one session.
	Speakers []string
}

// SummaryFragment is a partial markdown summary for one text window.
type SummaryFragment struct {
	WindowIndex int
	Markdown    string
}

// SessionSummary is the final merged markdown document.
type SessionSummary struct {
	Markdown string
}

// Render formats the transcript as "Speaker: text" lines, prefixed with a
// [MM:SS] timestamp when timing is known.
func (t *DiarizedTranscript) Render() string {
	var b strings.Builder
	for _, u := range t.Utterances {
		speaker := u.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		if u.HasTiming() {
			b.WriteString(fmt.Sprintf("[%02d:%02d] ", int(u.Start)/60, int(u.Start)%60))
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(u.Text)
		b.WriteString("\n")
	}
	return b.String()
}

var utteranceLine = regexp.MustCompile(`^(?:\[(\d+):(\d{2})\]\s*)?([^:\[\]]{1,40}):\s+(.*)$`)

// Parse reads a plain-text transcript into a DiarizedTranscript. Lines of the
// form "Name: text" (optionally "[MM:SS] Name: text") start a new utterance;
// other non-empty lines continue the previous one.
func Parse(text string) *DiarizedTranscript {
	t := &DiarizedTranscript{}
	seen := make(map[string]bool)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := utteranceLine.FindStringSubmatch(line); m != nil {
			start := -1.0
			if m[1] != "" {
				var min, sec int
				fmt.Sscanf(m[1], "%d", &min)
				fmt.Sscanf(m[2], "%d", &sec)
				start = float64(min*60 + sec)
			}
			speaker := strings.TrimSpace(m[3])
			t.Utterances = append(t.Utterances, Utterance{
				Speaker: speaker,
				Text:    strings.TrimSpace(m[4]),
				Start:   start,
				End:     start,
			})
			if !seen[speaker] {
				seen[speaker] = true
				t.Speakers = append(t.Speakers, speaker)
			}
			continue
		}

		if n := len(t.Utterances); n > 0 {
			t.Utterances[n-1].Text += " " + line
		} else {
			t.Utterances = append(t.Utterances, Utterance{Text: line, Start: -1, End: -1})
		}
	}

	return t
}
