package diarize

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kmalloy/sessionscribe/internal/logger"
	"github.com/kmalloy/sessionscribe/internal/provider"
	"github.com/kmalloy/sessionscribe/internal/retry"
	"github.com/kmalloy/sessionscribe/internal/session"
)

// attributionMaxTokens bounds the attribution reply, which is one short
// label line per utterance.
const attributionMaxTokens = 2048

// Attributor assigns speaker labels to unlabeled utterances through the
// text-generation capability. Transcription providers return plain segments
// without voices, so speakers are inferred around the model output.
type Attributor struct {
	gen    provider.Generator
	caller *retry.Caller
	log    logger.Logger
}

// NewAttributor creates an Attributor.
func NewAttributor(gen provider.Generator, caller *retry.Caller, log logger.Logger) *Attributor {
	return &Attributor{gen: gen, caller: caller, log: log}
}

// Attribute labels one fragment's unlabeled utterances. The labels are
// fragment-local tags; the merger reconciles them into the session alphabet.
// Attribution failure degrades to the unlabeled fragment with a warning,
// never an error, except for cancellation.
func (a *Attributor) Attribute(ctx context.Context, f session.TranscriptFragment) (session.TranscriptFragment, string, error) {
	if !needsAttribution(f.Utterances) {
		return f, "", nil
	}

	prompt := attributionPrompt(f.Utterances)

	var reply string
	err := a.caller.Call(ctx, fmt.Sprintf("attribute speakers chunk %d", f.ChunkIndex), func(ctx context.Context) error {
		var callErr error
		reply, callErr = a.gen.Generate(ctx, prompt, attributionMaxTokens)
		return callErr
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return f, "", err
		}
		warn := fmt.Sprintf("speaker attribution failed for chunk %d, keeping unlabeled utterances: %v", f.ChunkIndex, err)
		return f, warn, nil
	}

	labels := parseAttribution(reply)
	out := f
	out.Utterances = append([]session.Utterance(nil), f.Utterances...)

	assigned := 0
	for i := range out.Utterances {
		if out.Utterances[i].Speaker != "" {
			continue
		}
		if label, ok := labels[i+1]; ok {
			out.Utterances[i].Speaker = label
			assigned++
		}
	}
	if assigned == 0 {
		warn := fmt.Sprintf("speaker attribution for chunk %d returned no usable labels", f.ChunkIndex)
		return f, warn, nil
	}

	a.log.Debug(ctx, "chunk %d: attributed %d/%d utterance(s)", f.ChunkIndex, assigned, len(out.Utterances))
	return out, "", nil
}

func needsAttribution(utterances []session.Utterance) bool {
	for _, u := range utterances {
		if u.Speaker == "" {
			return true
		}
	}
	return false
}

func attributionPrompt(utterances []session.Utterance) string {
	var lines strings.Builder
	for i, u := range utterances {
		fmt.Fprintf(&lines, "%d. %s\n", i+1, u.Text)
	}
	return fmt.Sprintf(`You are an expert at attributing dialogue to speakers. Below is a numbered transcript excerpt from one tabletop RPG session, in chronological order and without speaker information.

Decide which distinct voice speaks each line. Reply with exactly one line per transcript line, in the form:
<line number>: SPEAKER_<nn>

Use SPEAKER_00 for the first distinct voice, SPEAKER_01 for the second, and so on, reusing the same tag whenever the same voice speaks again. Output nothing else.

Transcript:
%s`, lines.String())
}

var attributionLine = regexp.MustCompile(`^\s*(\d+)\s*[:.)-]\s*(\S+)`)

// parseAttribution reads "<n>: <label>" reply lines into a line-number map.
// Malformed lines are skipped; the caller treats an empty map as failure.
func parseAttribution(reply string) map[int]string {
	labels := make(map[int]string)
	for _, line := range strings.Split(reply, "\n") {
		m := attributionLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		labels[n] = strings.TrimSpace(m[2])
	}
	return labels
}
