package summarize

import (
	"fmt"
	"strings"

	"github.com/kmalloy/sessionscribe/internal/chunker"
	"github.com/kmalloy/sessionscribe/internal/session"
)

// sectionContract is the fixed markdown shape every final summary follows.
const sectionContract = `# <session title>
## Plot Points
<ordered list of the major plot developments, in chronological order>
## Character Actions
<notes on what each character did and decided>
## Notable Quotes
<memorable lines, attributed to their speakers>`

func detailInstruction(detail session.DetailLevel) string {
	switch detail {
	case session.DetailBrief:
		return "Keep it brief: a handful of plot points and only the most important actions and quotes."
	case session.DetailDetailed:
		return "Be thorough: capture every scene, significant dice moment, character decision and memorable exchange."
	default:
		return "Aim for a balanced level of detail covering all major scenes and decisions."
	}
}

func directPrompt(detail session.DetailLevel, transcript string) string {
	return fmt.Sprintf(`You are summarizing a tabletop RPG session for the players.
%s

Write a markdown summary with exactly this structure:
%s

Transcript:
---
%s
---`, detailInstruction(detail), sectionContract, transcript)
}

func mapPrompt(detail session.DetailLevel, w chunker.TextWindow, index, total int) string {
	var context string
	if w.Core != w.Text {
		context = `The transcript excerpt begins with context that the previous part already covered; use it only to understand what is happening and do not narrate it again. Summarize only from this marker onward:
<<SUMMARIZE FROM HERE>>
`
	}
	excerpt := w.Text
	if context != "" {
		lead := w.Text[:len(w.Text)-len(w.Core)]
		excerpt = lead + "<<SUMMARIZE FROM HERE>>\n" + w.Core
	}
	return fmt.Sprintf(`You are summarizing part %d of %d of a tabletop RPG session transcript.
%s
Produce markdown bullet points of plot developments, character actions and notable quotes for this part, in chronological order. %s

Transcript part:
---
%s
---`, index+1, total, context, detailInstruction(detail), excerpt)
}

func reducePrompt(detail session.DetailLevel, fragments []session.SummaryFragment) string {
	var parts strings.Builder
	for _, f := range fragments {
		fmt.Fprintf(&parts, "--- part %d ---\n%s\n", f.WindowIndex+1, strings.TrimSpace(f.Markdown))
	}
	return fmt.Sprintf(`You are merging partial summaries of one tabletop RPG session into a single coherent markdown document. The parts are in chronological order; keep that order and do not repeat content that two parts both mention.
%s

Write the final summary with exactly this structure:
%s

Partial summaries:
%s`, detailInstruction(detail), sectionContract, parts.String())
}
