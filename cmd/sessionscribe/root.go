package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kmalloy/sessionscribe/internal/config"
	"github.com/kmalloy/sessionscribe/internal/logger"
	"github.com/kmalloy/sessionscribe/internal/pipeline"
	"github.com/kmalloy/sessionscribe/internal/provider"
	"github.com/kmalloy/sessionscribe/internal/session"
	"github.com/kmalloy/sessionscribe/internal/summarize"
	"github.com/kmalloy/sessionscribe/internal/watcher"
	"github.com/kmalloy/sessionscribe/pkg/executor"
)

type rootOptions struct {
	audioPath      string
	transcriptPath string
	outputPath     string
	diarizedPath   string
	speakerNames   []string
	detail         string
	configPath     string
	docx           bool
	transcriptOnly bool
	watchDir       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sessionscribe",
		Short: "Transcribe, diarize and summarize tabletop RPG sessions",
		Long: `sessionscribe turns session recordings or raw transcripts into a
diarized transcript and a structured markdown summary.

Provide exactly one input: an audio recording (--audio) or an existing
transcript (--transcript). With --watch it monitors a directory instead and
processes every session file dropped into it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.audioPath, "audio", "a", "", "path to the session audio recording")
	cmd.Flags().StringVarP(&opts.transcriptPath, "transcript", "t", "", "path to an existing plain-text transcript")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "summary.md", "path for the markdown summary")
	cmd.Flags().StringVarP(&opts.diarizedPath, "diarized-output", "d", "", "path for the diarized transcript (optional)")
	cmd.Flags().StringSliceVarP(&opts.speakerNames, "names", "n", nil, "speaker names in order of first appearance")
	cmd.Flags().StringVar(&opts.detail, "detail", "", "summary detail level: brief, standard or detailed")
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a yaml config file")
	cmd.Flags().BoolVar(&opts.docx, "docx", false, "additionally render the summary as a docx document")
	cmd.Flags().BoolVar(&opts.transcriptOnly, "transcript-only", false, "stop after diarization, skip summarization")
	cmd.Flags().StringVar(&opts.watchDir, "watch", "", "watch a directory and process every session file dropped into it")

	return cmd
}

func run(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctrl, err := buildController(cfg, log, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.watchDir != "" {
		return runWatch(ctx, cfg, log, ctrl, opts)
	}
	return runOnce(ctx, cfg, ctrl, opts)
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		var err error
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if opts.detail != "" {
		switch opts.detail {
		case "brief", "standard", "detailed":
			cfg.Summary.Detail = opts.detail
		default:
			return nil, fmt.Errorf("invalid --detail %q: must be brief, standard or detailed", opts.detail)
		}
	}
	if len(opts.speakerNames) > 0 {
		cfg.Diarization.SpeakerNames = opts.speakerNames
	}
	return cfg, nil
}

func buildController(cfg *config.Config, log logger.Logger, opts *rootOptions) (*pipeline.Controller, error) {
	needsTranscription := opts.audioPath != "" || opts.watchDir != ""
	if needsTranscription && cfg.Provider.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("transcription requires an OpenAI API key (set OPENAI_API_KEY or provider.openai.api_key)")
	}

	transcriber := provider.NewOpenAI(cfg.Provider.OpenAI)

	var generator provider.Generator
	switch cfg.Provider.Generation {
	case "gemini":
		var err error
		generator, err = provider.NewGemini(cfg.Provider.Gemini)
		if err != nil {
			return nil, err
		}
	default:
		if cfg.Provider.OpenAI.APIKey == "" && !opts.transcriptOnly {
			return nil, fmt.Errorf("summarization requires an OpenAI API key (set OPENAI_API_KEY or provider.openai.api_key)")
		}
		generator = transcriber
	}

	progress := func(stage, message string) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", stage, message)
	}
	return pipeline.New(cfg, log, executor.New(), transcriber, generator, progress), nil
}

func runOnce(ctx context.Context, cfg *config.Config, ctrl *pipeline.Controller, opts *rootOptions) error {
	sess, err := buildSession(cfg, opts)
	if err != nil {
		return err
	}

	result, err := ctrl.Run(ctx, sess, pipeline.Options{TranscriptOnly: opts.transcriptOnly})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted, no output written")
			return nil
		}
		return err
	}

	return writeOutputs(result, opts.outputPath, opts.diarizedPath, opts.docx, opts.transcriptOnly)
}

func buildSession(cfg *config.Config, opts *rootOptions) (*session.Session, error) {
	if (opts.audioPath == "") == (opts.transcriptPath == "") {
		return nil, fmt.Errorf("provide exactly one of --audio or --transcript")
	}

	kind := session.SourceAudio
	path := opts.audioPath
	if opts.transcriptPath != "" {
		kind = session.SourceText
		path = opts.transcriptPath
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}

	return session.New(kind, path, session.DetailLevel(cfg.Summary.Detail), cfg.Diarization.SpeakerNames), nil
}

func runWatch(ctx context.Context, cfg *config.Config, log logger.Logger, ctrl *pipeline.Controller, opts *rootOptions) error {
	if opts.audioPath != "" || opts.transcriptPath != "" {
		return fmt.Errorf("--watch cannot be combined with --audio or --transcript")
	}
	if err := os.MkdirAll(opts.watchDir, 0o755); err != nil {
		return fmt.Errorf("create watch directory: %w", err)
	}

	handler := func(ctx context.Context, filePath string) error {
		kind := session.SourceText
		if watcher.IsAudioFile(filePath) {
			kind = session.SourceAudio
		}
		sess := session.New(kind, filePath, session.DetailLevel(cfg.Summary.Detail), cfg.Diarization.SpeakerNames)
		log.WithField("session", sess.ID).Info(ctx, "processing %s", filePath)

		result, err := ctrl.Run(ctx, sess, pipeline.Options{TranscriptOnly: opts.transcriptOnly})
		if err != nil {
			return err
		}

		base := strings.TrimSuffix(filePath, filepath.Ext(filePath))
		return writeOutputs(result, base+".summary.md", base+".transcript.md", opts.docx, opts.transcriptOnly)
	}

	w, err := watcher.New(opts.watchDir, handler, log, cfg.Performance.MaxConcurrent)
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// writeOutputs persists artifacts only after the whole run succeeded.
func writeOutputs(result *pipeline.Result, summaryPath, transcriptPath string, docx, transcriptOnly bool) error {
	for _, warn := range result.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warn)
	}

	if transcriptOnly && transcriptPath == "" {
		transcriptPath = summaryPath
	}
	if transcriptPath != "" {
		if err := summarize.WriteTranscript(transcriptPath, result.Transcript); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
		fmt.Printf("Transcript written to %s\n", transcriptPath)
	}
	if transcriptOnly {
		return nil
	}

	if err := summarize.WriteSummary(summaryPath, result.Summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	fmt.Printf("Summary written to %s\n", summaryPath)

	if docx {
		docxPath := strings.TrimSuffix(summaryPath, filepath.Ext(summaryPath)) + ".docx"
		if err := summarize.WriteSummaryDocx(result.Summary.Markdown, docxPath); err != nil {
			return fmt.Errorf("write docx: %w", err)
		}
		fmt.Printf("Summary written to %s\n", docxPath)
	}
	return nil
}
