package chunker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kmalloy/sessionscribe/internal/logger"
	"github.com/kmalloy/sessionscribe/pkg/executor"
)

// AudioChunk is one time-bounded slice of an audio source.
type AudioChunk struct {
	Chunk
	SourcePath string
}

// Duration returns the chunk length in seconds.
func (c AudioChunk) Duration() float64 { return c.End - c.Start }

// AudioChunker plans and extracts time-bounded audio segments using ffmpeg.
type AudioChunker struct {
	exec           executor.Executor
	log            logger.Logger
	maxSeconds     float64
	overlapSeconds float64
}

// NewAudio creates an AudioChunker. maxSeconds is the effective per-chunk
// ceiling (the caller applies any provider safety margin before passing it).
func NewAudio(exec executor.Executor, log logger.Logger, maxSeconds, overlapSeconds float64) *AudioChunker {
	return &AudioChunker{
		exec:           exec,
		log:            log,
		maxSeconds:     maxSeconds,
		overlapSeconds: overlapSeconds,
	}
}

// Split probes the source duration and returns the ordered chunk sequence
// covering it. Fails with InvalidSourceError before any remote work.
func (c *AudioChunker) Split(ctx context.Context, path string) ([]AudioChunk, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &InvalidSourceError{Path: path, Reason: "unreadable: " + err.Error()}
	}
	if info.Size() == 0 {
		return nil, &InvalidSourceError{Path: path, Reason: "empty file"}
	}

	duration, err := c.probeDuration(ctx, path)
	if err != nil {
		return nil, &InvalidSourceError{Path: path, Reason: err.Error()}
	}
	if duration <= 0 {
		return nil, &InvalidSourceError{Path: path, Reason: "zero-length audio"}
	}

	planned, err := plan(duration, c.maxSeconds, c.overlapSeconds)
	if err != nil {
		return nil, fmt.Errorf("chunk plan: %w", err)
	}
	var chunks []AudioChunk
	for _, ch := range planned {
		chunks = append(chunks, AudioChunk{Chunk: ch, SourcePath: path})
	}

	c.log.Info(ctx, "audio source %s: %.1fs split into %d chunk(s)", filepath.Base(path), duration, len(chunks))
	return chunks, nil
}

// Extract materializes one chunk as a 16kHz mono WAV file under destDir.
// That format is what the transcription models process best.
func (c *AudioChunker) Extract(ctx context.Context, chunk AudioChunk, destDir string) (string, error) {
	outPath := filepath.Join(destDir, fmt.Sprintf("chunk-%03d.wav", chunk.Index))

	args := []string{
		"-ss", formatSeconds(chunk.Start),
		"-t", formatSeconds(chunk.Duration()),
		"-i", chunk.SourcePath,
		"-vn",
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y",
		outPath,
	}

	if _, err := c.exec.Execute(ctx, "ffmpeg", args...); err != nil {
		return "", fmt.Errorf("ffmpeg extract chunk %d: %w", chunk.Index, err)
	}

	c.log.Debug(ctx, "extracted chunk %d [%0.1fs-%0.1fs] to %s", chunk.Index, chunk.Start, chunk.End, outPath)
	return outPath, nil
}

func (c *AudioChunker) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := c.exec.Execute(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(out), err)
	}
	return duration, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
