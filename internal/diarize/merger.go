// Package diarize merges per-chunk transcript fragments into one ordered
// transcript with a stable speaker-label alphabet.
package diarize

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/kmalloy/sessionscribe/internal/logger"
	"github.com/kmalloy/sessionscribe/internal/session"
)

// boundaryWindow caps how many utterances on each side of a chunk boundary
// are compared when the source carries no usable timestamps.
const boundaryWindow = 8

// Input pairs a fragment with its chunk's placement in the source.
type Input struct {
	Fragment   session.TranscriptFragment
	ChunkStart float64
	// Overlap is the seconds of audio this chunk shares with the previous
	// one. Zero disables boundary deduplication for this fragment.
	Overlap float64
}

// Merger reconciles fragments across chunk boundaries.
type Merger struct {
	log logger.Logger
	// similarityThreshold is the token-set Jaccard ratio above which two
	// utterances inside the overlap window count as the same content.
	similarityThreshold float64
	speakerNames        []string
}

// New creates a Merger. speakerNames, when provided, rename the allocated
// labels in order of first appearance.
func New(log logger.Logger, similarityThreshold float64, speakerNames []string) *Merger {
	return &Merger{
		log:                 log,
		similarityThreshold: similarityThreshold,
		speakerNames:        speakerNames,
	}
}

// Merge concatenates fragments in sequence order, drops near-duplicate
// utterances introduced by chunk overlap, and assigns session-wide speaker
// labels. Contradictory overlaps degrade to best-effort concatenation with a
// returned warning, never an error.
func (m *Merger) Merge(ctx context.Context, inputs []Input) (*session.DiarizedTranscript, []string) {
	out := &session.DiarizedTranscript{}
	var warnings []string

	labels := newLabelAlphabet()

	for _, in := range inputs {
		utterances := rebase(in.Fragment.Utterances, in.ChunkStart)

		// Provider labels are fragment-local, so each fragment gets a fresh
		// mapping into the session alphabet, seeded by overlap matches.
		fragMap := make(map[string]string)

		if in.Overlap > 0 && len(out.Utterances) > 0 {
			var dropped int
			var matched bool
			utterances, dropped, matched = m.dedupBoundary(out.Utterances, utterances, in, fragMap)
			if dropped > 0 {
				m.log.Debug(ctx, "chunk %d: dropped %d duplicate utterance(s) in overlap", in.Fragment.ChunkIndex, dropped)
			}
			if !matched {
				warn := fmt.Sprintf(
					"incoherent merge at chunk %d boundary: no overlapping content matched, concatenating as-is",
					in.Fragment.ChunkIndex)
				m.log.Warn(ctx, "%s", warn)
				warnings = append(warnings, warn)
			}
		}

		for _, u := range utterances {
			switch {
			case u.Speaker != "":
				mapped, ok := fragMap[u.Speaker]
				if !ok {
					mapped = labels.resolve(u.Speaker)
					fragMap[u.Speaker] = mapped
				}
				u.Speaker = mapped
			case len(out.Utterances) > 0 && out.Utterances[len(out.Utterances)-1].Speaker != "":
				// Unknown adjacent to a known label continues that speaker.
				u.Speaker = out.Utterances[len(out.Utterances)-1].Speaker
			default:
				u.Speaker = labels.allocate()
			}
			out.Utterances = append(out.Utterances, u)
		}
	}

	out.Speakers = labels.ordered
	m.applyNames(out)
	return out, warnings
}

// dedupBoundary compares the tail of the merged sequence against the head of
// the next fragment within the overlap window, dropping near-duplicates from
// the later fragment. Matched pairs seed fragMap so the continuing speaker's
// session label propagates across the boundary. Returns the surviving
// utterances, the drop count, and whether any overlap content matched.
func (m *Merger) dedupBoundary(merged, next []session.Utterance, in Input, fragMap map[string]string) ([]session.Utterance, int, bool) {
	tail := windowTail(merged, in.ChunkStart)
	head := windowHead(next, in.ChunkStart+in.Overlap)
	if len(tail) == 0 || len(head) == 0 {
		return next, 0, true
	}

	dropped := 0
	matched := false
	kept := next[:0:0]
	for i, u := range next {
		if i < len(head) {
			if prev, ok := m.findDuplicate(tail, u); ok {
				dropped++
				matched = true
				if u.Speaker != "" && prev.Speaker != "" {
					fragMap[u.Speaker] = prev.Speaker
				}
				continue
			}
		}
		kept = append(kept, u)
	}
	return kept, dropped, matched
}

func (m *Merger) findDuplicate(tail []session.Utterance, u session.Utterance) (session.Utterance, bool) {
	for _, prev := range tail {
		if jaccard(normalize(prev.Text), normalize(u.Text)) >= m.similarityThreshold {
			return prev, true
		}
	}
	return session.Utterance{}, false
}

// windowTail picks merged utterances that reach into the overlap region,
// falling back to a fixed-size tail when timing is absent.
func windowTail(utterances []session.Utterance, overlapStart float64) []session.Utterance {
	var tail []session.Utterance
	for i := len(utterances) - 1; i >= 0 && len(tail) < boundaryWindow; i-- {
		u := utterances[i]
		if u.HasTiming() && u.End < overlapStart {
			break
		}
		tail = append(tail, u)
	}
	return tail
}

// windowHead picks the next fragment's utterances that start inside the
// overlap region, falling back to a fixed-size head when timing is absent.
func windowHead(utterances []session.Utterance, overlapEnd float64) []session.Utterance {
	var head []session.Utterance
	for _, u := range utterances {
		if len(head) >= boundaryWindow {
			break
		}
		if u.HasTiming() && u.Start > overlapEnd {
			break
		}
		head = append(head, u)
	}
	return head
}

func rebase(utterances []session.Utterance, offset float64) []session.Utterance {
	out := make([]session.Utterance, len(utterances))
	for i, u := range utterances {
		if u.HasTiming() {
			u.Start += offset
			u.End += offset
		}
		out[i] = u
	}
	return out
}

// applyNames maps allocated labels to user-provided speaker names in order
// of first appearance, keeping generated labels once names run out.
func (m *Merger) applyNames(t *session.DiarizedTranscript) {
	if len(m.speakerNames) == 0 {
		return
	}
	rename := make(map[string]string)
	for i, label := range t.Speakers {
		if i < len(m.speakerNames) {
			rename[label] = m.speakerNames[i]
			t.Speakers[i] = m.speakerNames[i]
		}
	}
	for i, u := range t.Utterances {
		if name, ok := rename[u.Speaker]; ok {
			t.Utterances[i].Speaker = name
		}
	}
}

// labelAlphabet allocates monotonically growing session labels, never
// reusing one for two distinct underlying speakers.
type labelAlphabet struct {
	ordered []string
	known   map[string]bool
	next    int
}

func newLabelAlphabet() *labelAlphabet {
	return &labelAlphabet{known: make(map[string]bool)}
}

// resolve maps a provider-assigned label into the session alphabet. A label
// already present in the alphabet continues; a new one allocates.
func (a *labelAlphabet) resolve(providerLabel string) string {
	if a.known[providerLabel] {
		return providerLabel
	}
	// Providers that emit stable human labels (e.g. "GM") keep them.
	if looksStable(providerLabel) {
		a.known[providerLabel] = true
		a.ordered = append(a.ordered, providerLabel)
		return providerLabel
	}
	return a.allocate()
}

func (a *labelAlphabet) allocate() string {
	a.next++
	label := fmt.Sprintf("Speaker %d", a.next)
	a.known[label] = true
	a.ordered = append(a.ordered, label)
	return label
}

// looksStable reports whether a provider label reads like a real name rather
// than an opaque per-request identifier such as "SPEAKER_00".
func looksStable(label string) bool {
	if strings.Contains(label, "_") {
		return false
	}
	for _, r := range label {
		if !unicode.IsLetter(r) && !unicode.IsSpace(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return strings.IndexFunc(label, unicode.IsLetter) >= 0
}

// normalize lowercases and strips everything but letters, digits and spaces.
func normalize(text string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// jaccard computes token-set similarity of two normalized token lists.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, tok := range a {
		set[tok] = true
	}
	intersection := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, tok := range b {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if set[tok] {
			intersection++
		} else {
			union++
		}
	}
	return float64(intersection) / float64(union)
}
