package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kmalloy/sessionscribe/internal/logger"
)

// settleDelay gives recorders time to finish writing a dropped file before it
// is picked up.
const settleDelay = 2 * time.Second

type implWatcher struct {
	inputDir      string
	handler       SessionHandler
	logger        logger.Logger
	watcher       *fsnotify.Watcher
	maxConcurrent int
	semaphore     chan struct{}
	wg            sync.WaitGroup
}

// Start begins monitoring the input directory for new session recordings and
// transcripts. Blocks until the context is cancelled, then drains in-flight
// sessions before returning.
func (w *implWatcher) Start(ctx context.Context) error {
	w.logger.Info(ctx, "Session watcher started (max concurrent: %d). Monitoring: %s", w.maxConcurrent, w.inputDir)
	w.logger.Info(ctx, "Supported formats: .wav, .mp3, .m4a, .flac, .ogg, .txt, .md")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Waiting for ongoing sessions to complete...")
			w.wg.Wait()
			w.logger.Info(ctx, "Session watcher stopped")
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}

			if event.Op&fsnotify.Create == fsnotify.Create {
				if !IsSessionFile(event.Name) {
					w.logger.Debug(ctx, "Ignoring unsupported file: %s", event.Name)
					continue
				}
				w.logger.Info(ctx, "New session source detected: %s", event.Name)

				time.Sleep(settleDelay)

				select {
				case w.semaphore <- struct{}{}:
					w.wg.Add(1)
					go func(filePath string) {
						defer w.wg.Done()
						defer func() { <-w.semaphore }()

						if err := w.handler(ctx, filePath); err != nil {
							w.logger.Error(ctx, "Failed to process %s: %v", filePath, err)
						}
					}(event.Name)
				case <-ctx.Done():
					return ctx.Err()
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error(ctx, "Watcher error: %v", err)
		}
	}
}

// Stop closes the file watcher
func (w *implWatcher) Stop() error {
	return w.watcher.Close()
}

// IsAudioFile reports whether path has a supported audio extension.
func IsAudioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".mp3", ".m4a", ".flac", ".ogg":
		return true
	}
	return false
}

// IsTranscriptFile reports whether path has a supported transcript extension.
func IsTranscriptFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return true
	}
	return false
}

// IsSessionFile reports whether path is a processable session source.
func IsSessionFile(path string) bool {
	return IsAudioFile(path) || IsTranscriptFile(path)
}
