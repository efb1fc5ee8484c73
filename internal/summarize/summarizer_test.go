package summarize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kmalloy/sessionscribe/internal/chunker"
	"github.com/kmalloy/sessionscribe/internal/logger"
	"github.com/kmalloy/sessionscribe/internal/retry"
	"github.com/kmalloy/sessionscribe/internal/session"
)

// fakeGenerator records prompts and plays back canned responses.
type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func testStage(gen *fakeGenerator, budget int) *Stage {
	log := logger.New("error", "text")
	caller := retry.New(3, time.Millisecond, 0, log, nil)
	return New(gen, caller, log, budget, 200, 1024)
}

func smallTranscript() *session.DiarizedTranscript {
	return &session.DiarizedTranscript{
		Utterances: []session.Utterance{
			{Speaker: "GM", Text: "You enter the cavern.", Start: 0, End: 2},
			{Speaker: "Alice", Text: "I light a torch.", Start: 3, End: 5},
		},
		Speakers: []string{"GM", "Alice"},
	}
}

func largeTranscript(lines int) *session.DiarizedTranscript {
	tr := &session.DiarizedTranscript{Speakers: []string{"GM"}}
	for i := 0; i < lines; i++ {
		tr.Utterances = append(tr.Utterances, session.Utterance{
			Speaker: "GM",
			Text:    strings.Repeat("words and more words ", 10),
			Start:   float64(i),
			End:     float64(i + 1),
		})
	}
	return tr
}

func TestPlanSkipsMapPhaseWhenUnderBudget(t *testing.T) {
	gen := &fakeGenerator{reply: "# Summary"}
	s := testStage(gen, 8000)

	plan, err := s.Plan(context.Background(), smallTranscript(), session.DetailStandard)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if !plan.Direct {
		t.Fatal("expected direct plan for small transcript")
	}
	if len(plan.Windows) != 0 {
		t.Fatalf("direct plan has %d windows", len(plan.Windows))
	}

	// Exactly one generation call: the reduce-equivalent direct call
	if _, err := s.Reduce(context.Background(), plan, nil); err != nil {
		t.Fatalf("Reduce() error = %v", err)
	}
	if gen.callCount() != 1 {
		t.Errorf("generation calls = %d, want 1", gen.callCount())
	}
}

func TestPlanWindowsLargeTranscript(t *testing.T) {
	gen := &fakeGenerator{reply: "- partial"}
	s := testStage(gen, 2000)

	plan, err := s.Plan(context.Background(), largeTranscript(100), session.DetailStandard)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Direct {
		t.Fatal("expected windowed plan for large transcript")
	}
	if len(plan.Windows) < 2 {
		t.Fatalf("got %d windows, want several", len(plan.Windows))
	}

	var fragments []session.SummaryFragment
	for i := range plan.Windows {
		f, err := s.MapWindow(context.Background(), plan, i)
		if err != nil {
			t.Fatalf("MapWindow(%d) error = %v", i, err)
		}
		if f.WindowIndex != i {
			t.Errorf("fragment index = %d, want %d", f.WindowIndex, i)
		}
		fragments = append(fragments, f)
	}

	summary, err := s.Reduce(context.Background(), plan, fragments)
	if err != nil {
		t.Fatalf("Reduce() error = %v", err)
	}
	if summary.Markdown != "- partial" {
		t.Errorf("summary = %q", summary.Markdown)
	}
	if gen.callCount() != len(plan.Windows)+1 {
		t.Errorf("generation calls = %d, want %d map + 1 reduce", gen.callCount(), len(plan.Windows))
	}
}

func TestPlanContextOverflow(t *testing.T) {
	gen := &fakeGenerator{}
	// Budget so small that even one utterance line cannot fit
	s := testStage(gen, promptReserveTokens+10)

	_, err := s.Plan(context.Background(), largeTranscript(5), session.DetailStandard)
	var overflow *ContextOverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("Plan() error = %v, want ContextOverflowError", err)
	}
	if gen.callCount() != 0 {
		t.Error("overflow must be detected before any remote call")
	}
}

func TestPlanRejectsEmptyTranscript(t *testing.T) {
	gen := &fakeGenerator{reply: "unused"}
	s := testStage(gen, 8000)

	// Every chunk transcribed to nothing renders to an empty transcript; that
	// must fail before any generation call instead of reducing zero fragments.
	_, err := s.Plan(context.Background(), &session.DiarizedTranscript{}, session.DetailStandard)
	var invalid *chunker.InvalidSourceError
	if !errors.As(err, &invalid) {
		t.Fatalf("Plan() error = %v, want InvalidSourceError", err)
	}
	if gen.callCount() != 0 {
		t.Error("empty transcript must be rejected before any remote call")
	}
}

func TestMapPromptMarksCore(t *testing.T) {
	gen := &fakeGenerator{reply: "- x"}
	s := testStage(gen, 2000)

	plan, err := s.Plan(context.Background(), largeTranscript(100), session.DetailStandard)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if _, err := s.MapWindow(context.Background(), plan, 1); err != nil {
		t.Fatalf("MapWindow() error = %v", err)
	}

	prompt := gen.prompts[len(gen.prompts)-1]
	if !strings.Contains(prompt, "<<SUMMARIZE FROM HERE>>") {
		t.Error("overlapping window prompt should mark where narration starts")
	}
}

func TestReduceKeepsFragmentOrder(t *testing.T) {
	gen := &fakeGenerator{reply: "# Final"}
	s := testStage(gen, 2000)

	fragments := []session.SummaryFragment{
		{WindowIndex: 0, Markdown: "- the party meets"},
		{WindowIndex: 1, Markdown: "- the dragon appears"},
		{WindowIndex: 2, Markdown: "- the treasure is split"},
	}
	if _, err := s.Reduce(context.Background(), &Plan{Detail: session.DetailStandard}, fragments); err != nil {
		t.Fatalf("Reduce() error = %v", err)
	}

	prompt := gen.prompts[0]
	meets := strings.Index(prompt, "the party meets")
	dragon := strings.Index(prompt, "the dragon appears")
	treasure := strings.Index(prompt, "the treasure is split")
	if !(meets < dragon && dragon < treasure) {
		t.Error("reduce prompt does not preserve chronological fragment order")
	}
}

func TestRetryableGenerationFailureExhausts(t *testing.T) {
	gen := &fakeGenerator{err: retry.Retryable(errors.New("rate limited"))}
	s := testStage(gen, 8000)

	plan, err := s.Plan(context.Background(), smallTranscript(), session.DetailStandard)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	_, err = s.Reduce(context.Background(), plan, nil)
	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Reduce() error = %v, want ExhaustedError", err)
	}
}

func TestWriteSummaryAndTranscript(t *testing.T) {
	dir := t.TempDir()

	summaryPath := filepath.Join(dir, "summary.md")
	if err := WriteSummary(summaryPath, &session.SessionSummary{Markdown: "# The Dragon's Hoard"}); err != nil {
		t.Fatalf("WriteSummary() error = %v", err)
	}
	data, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# The Dragon's Hoard") {
		t.Errorf("summary content = %q", data)
	}

	transcriptPath := filepath.Join(dir, "transcript.md")
	if err := WriteTranscript(transcriptPath, smallTranscript()); err != nil {
		t.Fatalf("WriteTranscript() error = %v", err)
	}
	data, err = os.ReadFile(transcriptPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "GM: You enter the cavern.") {
		t.Errorf("transcript content = %q", data)
	}
}
