package services

import (
	"fmt"
	"strings"

	"github.com/itish2003/memory-engine/models"
)

const snippetLength = 200

// groundingContext is what the answer requester hands to the generator along
// with the source summaries returned to the caller.
type groundingContext struct {
	Text       string
	Sources    []models.SourceDocument
	Disclosure string
}

func buildContext(ret Retrieval) groundingContext {
	labels := make([]string, 0, len(ret.Records))
	sources := make([]models.SourceDocument, 0, len(ret.Records))
	for _, rec := range ret.Records {
		noteID := rec.NoteID
		if noteID == "" {
			noteID = "unknown"
		}
		labels = append(labels, fmt.Sprintf("[Note ID: %s]\n%s", noteID, rec.Text))
		sources = append(sources, models.SourceDocument{
			ChunkID:        rec.ChunkID,
			NoteID:         rec.NoteID,
			TextSnippet:    snippet(rec.Text),
			RelevanceScore: rec.Score,
		})
	}
	return groundingContext{
		Text:       strings.Join(labels, "\n\n"),
		Sources:    sources,
		Disclosure: disclose(ret.Applied),
	}
}

// snippet truncates text to snippetLength characters, marking the cut with "...".
func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength]) + "..."
}

// disclose describes the filter a retrieval applied, or returns "".
func disclose(applied Filters) string {
	switch {
	case applied.Time != nil:
		switch applied.Time.Kind {
		case TimeLatest:
			if applied.Time.Limit > 1 {
				return fmt.Sprintf("This query is filtered to your %d most recent notes.", applied.Time.Limit)
			}
			return "This query is filtered to your most recent note."
		default:
			return fmt.Sprintf("This query is filtered for notes from %s.", describeWindow(*applied.Time))
		}
	case applied.Tag != nil:
		return fmt.Sprintf("This query is filtered for notes tagged '%s'.", applied.Tag.Tag)
	case applied.Date != "":
		return fmt.Sprintf("This query is filtered for notes from %s.", applied.Date)
	default:
		return ""
	}
}
