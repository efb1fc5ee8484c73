// Package summarize turns a diarized transcript into a markdown session
// summary through the remote text-generation capability, re-chunking the
// transcript when it exceeds the generator's context budget.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/kmalloy/sessionscribe/internal/chunker"
	"github.com/kmalloy/sessionscribe/internal/logger"
	"github.com/kmalloy/sessionscribe/internal/provider"
	"github.com/kmalloy/sessionscribe/internal/retry"
	"github.com/kmalloy/sessionscribe/internal/session"
)

// promptReserveTokens is held back from the context budget for the prompt
// scaffolding around the transcript text.
const promptReserveTokens = 500

// ContextOverflowError reports a window that still exceeds the context
// budget after minimum-size chunking. This is a configuration mismatch and
// must never be silently truncated.
type ContextOverflowError struct {
	Tokens int
	Budget int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("window of %d tokens exceeds context budget %d", e.Tokens, e.Budget)
}

// Stage issues the generation calls for one session's summary. The
// controller drives Plan, MapWindow and Reduce; concurrency of the map phase
// belongs to the controller.
type Stage struct {
	gen             provider.Generator
	caller          *retry.Caller
	log             logger.Logger
	budgetTokens    int
	overlapTokens   int
	maxOutputTokens int
}

// New creates a Stage.
func New(gen provider.Generator, caller *retry.Caller, log logger.Logger, budgetTokens, overlapTokens, maxOutputTokens int) *Stage {
	return &Stage{
		gen:             gen,
		caller:          caller,
		log:             log,
		budgetTokens:    budgetTokens,
		overlapTokens:   overlapTokens,
		maxOutputTokens: maxOutputTokens,
	}
}

// Plan decides between a single direct call and a map-reduce pass. A
// transcript within budget skips the map phase entirely.
type Plan struct {
	Detail session.DetailLevel
	// Direct marks the single-call path; Text carries the whole transcript
	// then and Windows stays empty.
	Direct  bool
	Text    string
	Windows []chunker.TextWindow
}

func (s *Stage) Plan(ctx context.Context, tr *session.DiarizedTranscript, detail session.DetailLevel) (*Plan, error) {
	text := tr.Render()
	if strings.TrimSpace(text) == "" {
		return nil, &chunker.InvalidSourceError{Path: "transcript", Reason: "nothing to summarize"}
	}
	total := chunker.EstimateTokens(text)
	window := s.budgetTokens - promptReserveTokens

	if total <= window {
		s.log.Info(ctx, "transcript fits context budget (%d/%d tokens), single summary call", total, s.budgetTokens)
		return &Plan{Detail: detail, Direct: true, Text: text}, nil
	}

	windows, err := chunker.SplitText(text, window, s.overlapTokens)
	if err != nil {
		return nil, err
	}
	for _, w := range windows {
		if tokens := int(w.End - w.Start); tokens > window {
			return nil, &ContextOverflowError{Tokens: tokens, Budget: s.budgetTokens}
		}
	}

	s.log.Info(ctx, "transcript of %d tokens split into %d summary window(s)", total, len(windows))
	return &Plan{Detail: detail, Windows: windows}, nil
}

// MapWindow produces the partial summary for one window. The prompt hands
// the model the full window for context but narrates only the core portion,
// so boundary content is never double-narrated.
func (s *Stage) MapWindow(ctx context.Context, plan *Plan, index int) (session.SummaryFragment, error) {
	w := plan.Windows[index]
	prompt := mapPrompt(plan.Detail, w, index, len(plan.Windows))

	var text string
	err := s.caller.Call(ctx, fmt.Sprintf("summarize window %d", index), func(ctx context.Context) error {
		var callErr error
		text, callErr = s.gen.Generate(ctx, prompt, s.maxOutputTokens)
		return callErr
	})
	if err != nil {
		return session.SummaryFragment{}, err
	}
	return session.SummaryFragment{WindowIndex: index, Markdown: text}, nil
}

// Reduce merges the map-phase fragments into the final document, or issues
// the single direct call when the transcript fit in one window. Fragments
// must arrive complete and in window order.
func (s *Stage) Reduce(ctx context.Context, plan *Plan, fragments []session.SummaryFragment) (*session.SessionSummary, error) {
	var prompt string
	if plan.Direct {
		prompt = directPrompt(plan.Detail, plan.Text)
	} else {
		prompt = reducePrompt(plan.Detail, fragments)
	}

	var text string
	err := s.caller.Call(ctx, "summary reduce", func(ctx context.Context) error {
		var callErr error
		text, callErr = s.gen.Generate(ctx, prompt, s.maxOutputTokens)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return &session.SessionSummary{Markdown: text}, nil
}
