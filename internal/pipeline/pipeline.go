// Package pipeline sequences chunking, transcription, diarization merge and
// summarization for one session, owning the run's in-flight state.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kmalloy/sessionscribe/internal/chunker"
	"github.com/kmalloy/sessionscribe/internal/config"
	"github.com/kmalloy/sessionscribe/internal/diarize"
	"github.com/kmalloy/sessionscribe/internal/logger"
	"github.com/kmalloy/sessionscribe/internal/provider"
	"github.com/kmalloy/sessionscribe/internal/retry"
	"github.com/kmalloy/sessionscribe/internal/session"
	"github.com/kmalloy/sessionscribe/internal/summarize"
	"github.com/kmalloy/sessionscribe/pkg/executor"
)

// safetyMargin shrinks provider ceilings so duration and size estimation
// error cannot push a chunk over a hard limit.
const safetyMargin = 0.9

// ProgressFunc receives human-readable progress events for the console
// layer. Never called after Run returns.
type ProgressFunc func(stage, message string)

// Options selects what the run produces.
type Options struct {
	// TranscriptOnly stops after the diarization merge.
	TranscriptOnly bool
}

// Result holds the run's artifacts. On any fatal error partial results are
// discarded and the Result is nil.
type Result struct {
	Transcript *session.DiarizedTranscript
	Summary    *session.SessionSummary
	Warnings   []string
}

// Controller runs sessions through the pipeline. Configuration is injected
// at construction and never mutated; per-run state lives on the stack of Run.
type Controller struct {
	cfg         *config.Config
	log         logger.Logger
	exec        executor.Executor
	transcriber provider.Transcriber
	generator   provider.Generator
	progress    ProgressFunc
}

// New creates a Controller. progress may be nil.
func New(cfg *config.Config, log logger.Logger, exec executor.Executor, transcriber provider.Transcriber, generator provider.Generator, progress ProgressFunc) *Controller {
	if progress == nil {
		progress = func(string, string) {}
	}
	return &Controller{
		cfg:         cfg,
		log:         log,
		exec:        exec,
		transcriber: transcriber,
		generator:   generator,
		progress:    progress,
	}
}

// Run executes the pipeline for one session. Fatal stage failures abort the
// whole run with a StageError; recoverable diarization ambiguity surfaces in
// Result.Warnings instead.
func (c *Controller) Run(ctx context.Context, sess *session.Session, opts Options) (*Result, error) {
	// All log lines of one run carry its session id.
	log := c.log.WithField("session", sess.ID)
	log.Info(ctx, "run started: %s source %s", sess.Kind, sess.SourcePath)

	result := &Result{}

	var err error
	switch sess.Kind {
	case session.SourceAudio:
		result.Transcript, result.Warnings, err = c.transcribeAudio(ctx, log, sess)
	case session.SourceText:
		result.Transcript, err = c.loadTranscript(sess)
	default:
		err = &StageError{Stage: StageChunking, Err: fmt.Errorf("unknown source kind %q", sess.Kind)}
	}
	if err != nil {
		return nil, err
	}

	if opts.TranscriptOnly {
		log.Info(ctx, "run finished: transcript only")
		return result, nil
	}

	result.Summary, err = c.summarizeTranscript(ctx, log, sess, result.Transcript)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "run finished")
	return result, nil
}

func (c *Controller) newCaller(log logger.Logger, stage string) *retry.Caller {
	onAttempt := func(a retry.Attempt) {
		c.progress(stage, fmt.Sprintf("attempt %d failed, backing off %s", a.Number, a.Wait.Round(time.Millisecond)))
	}
	return retry.New(
		c.cfg.Retry.MaxAttempts,
		c.cfg.Retry.BaseDelay.Std(),
		c.cfg.Retry.MaxJitter.Std(),
		log.WithField("stage", stage),
		onAttempt,
	)
}

func (c *Controller) transcribeAudio(ctx context.Context, log logger.Logger, sess *session.Session) (*session.DiarizedTranscript, []string, error) {
	audio := chunker.NewAudio(
		c.exec,
		log,
		c.cfg.Chunking.Audio.MaxSeconds*safetyMargin,
		c.cfg.Chunking.Audio.OverlapSeconds,
	)

	chunks, err := audio.Split(ctx, sess.SourcePath)
	if err != nil {
		return nil, nil, &StageError{Stage: StageChunking, Err: err}
	}
	c.progress(StageChunking, fmt.Sprintf("%d audio chunk(s)", len(chunks)))

	workDir, err := os.MkdirTemp("", "sessionscribe-*")
	if err != nil {
		return nil, nil, &StageError{Stage: StageTranscription, Err: err}
	}
	defer os.RemoveAll(workDir)

	caller := c.newCaller(log, StageTranscription)

	// Chunks run concurrently up to the worker limit; fragments land in
	// their index slot so assembly order never depends on completion order.
	fragments := make([]session.TranscriptFragment, len(chunks))
	err = c.forEachIndex(ctx, len(chunks), func(ctx context.Context, i int) error {
		chunkPath := sess.SourcePath
		if len(chunks) > 1 {
			var exErr error
			chunkPath, exErr = audio.Extract(ctx, chunks[i], workDir)
			if exErr != nil {
				return exErr
			}
		}

		var segments []provider.Segment
		callErr := caller.Call(ctx, fmt.Sprintf("transcribe chunk %d", i), func(ctx context.Context) error {
			var err error
			segments, err = c.transcriber.Transcribe(ctx, chunkPath)
			return err
		})
		if callErr != nil {
			return callErr
		}

		fragments[i] = fragmentFromSegments(i, segments)
		c.progress(StageTranscription, fmt.Sprintf("chunk %d/%d transcribed", i+1, len(chunks)))
		return nil
	})
	if err != nil {
		return nil, nil, &StageError{Stage: StageTranscription, Err: err}
	}

	// Transcription segments carry no voices, so speakers are inferred per
	// fragment through the generator before the merge reconciles labels.
	attributor := diarize.NewAttributor(c.generator, c.newCaller(log, StageDiarization), log)
	var warnMu sync.Mutex
	var warnings []string
	err = c.forEachIndex(ctx, len(fragments), func(ctx context.Context, i int) error {
		attributed, warn, attrErr := attributor.Attribute(ctx, fragments[i])
		if attrErr != nil {
			return attrErr
		}
		if warn != "" {
			warnMu.Lock()
			warnings = append(warnings, warn)
			warnMu.Unlock()
		}
		fragments[i] = attributed
		return nil
	})
	if err != nil {
		return nil, nil, &StageError{Stage: StageDiarization, Err: err}
	}

	merger := diarize.New(log, c.cfg.Diarization.SimilarityThreshold, sess.SpeakerNames)
	inputs := make([]diarize.Input, len(fragments))
	for i, f := range fragments {
		inputs[i] = diarize.Input{
			Fragment:   f,
			ChunkStart: chunks[i].Start,
			Overlap:    chunks[i].Overlap,
		}
	}
	transcript, mergeWarnings := merger.Merge(ctx, inputs)
	warnings = append(warnings, mergeWarnings...)
	c.progress(StageDiarization, fmt.Sprintf("%d utterance(s), %d speaker(s)", len(transcript.Utterances), len(transcript.Speakers)))
	return transcript, warnings, nil
}

func (c *Controller) loadTranscript(sess *session.Session) (*session.DiarizedTranscript, error) {
	data, err := os.ReadFile(sess.SourcePath)
	if err != nil {
		return nil, &StageError{
			Stage: StageChunking,
			Err:   &chunker.InvalidSourceError{Path: sess.SourcePath, Reason: "unreadable: " + err.Error()},
		}
	}
	transcript := session.Parse(string(data))
	if len(transcript.Utterances) == 0 {
		return nil, &StageError{
			Stage: StageChunking,
			Err:   &chunker.InvalidSourceError{Path: sess.SourcePath, Reason: "empty transcript"},
		}
	}
	return transcript, nil
}

func (c *Controller) summarizeTranscript(ctx context.Context, log logger.Logger, sess *session.Session, transcript *session.DiarizedTranscript) (*session.SessionSummary, error) {
	stage := summarize.New(
		c.generator,
		c.newCaller(log, StageSummarization),
		log,
		c.cfg.Summary.ContextBudgetTokens,
		c.cfg.Chunking.Text.OverlapTokens,
		c.cfg.Summary.MaxOutputTokens,
	)

	plan, err := stage.Plan(ctx, transcript, sess.Detail)
	if err != nil {
		return nil, &StageError{Stage: StageSummarization, Err: err}
	}

	var fragments []session.SummaryFragment
	if n := len(plan.Windows); n > 0 {
		fragments = make([]session.SummaryFragment, n)
		err = c.forEachIndex(ctx, n, func(ctx context.Context, i int) error {
			f, mapErr := stage.MapWindow(ctx, plan, i)
			if mapErr != nil {
				return mapErr
			}
			fragments[i] = f
			c.progress(StageSummarization, fmt.Sprintf("window %d/%d summarized", i+1, n))
			return nil
		})
		if err != nil {
			return nil, &StageError{Stage: StageSummarization, Err: err}
		}
	}

	// Reduce runs strictly after the whole map phase.
	summary, err := stage.Reduce(ctx, plan, fragments)
	if err != nil {
		return nil, &StageError{Stage: StageSummarization, Err: err}
	}
	c.progress(StageSummarization, "summary complete")
	return summary, nil
}

// forEachIndex runs fn for each index with bounded concurrency. The first
// error cancels the shared context so in-flight work stops retrying and no
// new work is scheduled.
func (c *Controller) forEachIndex(parent context.Context, n int, fn func(ctx context.Context, i int) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sem := newSemaphore(c.cfg.Performance.MaxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	record := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for i := 0; i < n; i++ {
		if err := sem.acquire(ctx); err != nil {
			record(err)
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.release()
			if err := fn(ctx, i); err != nil {
				record(err)
			}
		}(i)
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil && parent.Err() != nil {
		// User cancellation takes precedence over errors it caused.
		return parent.Err()
	}
	return firstErr
}

func fragmentFromSegments(index int, segments []provider.Segment) session.TranscriptFragment {
	f := session.TranscriptFragment{ChunkIndex: index}
	for _, s := range segments {
		f.Utterances = append(f.Utterances, session.Utterance{
			Speaker: s.Speaker,
			Text:    s.Text,
			Start:   s.Start,
			End:     s.End,
		})
	}
	return f
}
