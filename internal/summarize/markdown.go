package summarize

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kmalloy/sessionscribe/internal/session"
)

// WriteSummary writes the final summary document. Called only after the
// whole run succeeded, so a half-finished artifact never hits disk.
func WriteSummary(path string, summary *session.SessionSummary) error {
	md := fmt.Sprintf("%s\n\n_Generated %s_\n",
		strings.TrimSpace(summary.Markdown),
		time.Now().Format("2006-01-02 15:04"),
	)
	if err := os.WriteFile(path, []byte(md), 0644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// WriteTranscript writes the diarized transcript artifact.
func WriteTranscript(path string, tr *session.DiarizedTranscript) error {
	if err := os.WriteFile(path, []byte(tr.Render()), 0644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
