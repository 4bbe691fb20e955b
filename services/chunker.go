package services

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunker splits note text on paragraph, line and word boundaries before
// falling back to raw characters.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunker creates a Chunker with the given size and overlap in characters.
func NewChunker(size, overlap int) Chunker {
	return Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
		),
	}
}

// Piece is a chunk located in its source text. Start is the byte offset of
// Text, or -1 when the chunk could not be located. Lead is the source text
// between the end of the earlier pieces and Start; it is empty when the piece
// overlaps them.
type Piece struct {
	Text  string
	Start int
	Lead  string
}

// Pieces splits text like Split and locates every chunk in it. Each chunk is
// placed at its first occurrence after the previous one and the last chunk at
// the end of text, so joining the pieces reproduces text. When that is not
// possible every Start is -1.
func (c Chunker) Pieces(text string) ([]Piece, error) {
	chunks, err := c.Split(text)
	if err != nil {
		return nil, err
	}
	text = strings.TrimRightFunc(text, unicode.IsSpace)

	pieces := make([]Piece, len(chunks))
	prevStart, end := -1, 0
	for i, chunk := range chunks {
		start := -1
		if i == len(chunks)-1 {
			if strings.HasSuffix(text, chunk) {
				start = len(text) - len(chunk)
			}
		} else if idx := strings.Index(text[prevStart+1:], chunk); idx >= 0 {
			start = prevStart + 1 + idx
		}
		if start <= prevStart {
			return unlocated(chunks), nil
		}

		pieces[i] = Piece{Text: chunk, Start: start}
		if start > end {
			pieces[i].Lead = text[end:start]
		}
		prevStart = start
		end = max(end, start+len(chunk))
	}
	return pieces, nil
}

func unlocated(chunks []string) []Piece {
	pieces := make([]Piece, len(chunks))
	for i, chunk := range chunks {
		pieces[i] = Piece{Text: chunk, Start: -1}
	}
	return pieces
}

// joinPieces rebuilds the source text from located pieces in index order. It
// reports false when any piece is unlocated or the offsets do not increase.
func joinPieces(pieces []Piece) (string, bool) {
	if len(pieces) == 0 {
		return "", true
	}
	var b strings.Builder
	end := pieces[0].Start
	for i, p := range pieces {
		if p.Start < 0 || (i > 0 && p.Start <= pieces[i-1].Start) {
			return "", false
		}
		switch {
		case p.Start > end:
			b.WriteString(p.Lead)
			b.WriteString(p.Text)
		case p.Start+len(p.Text) > end:
			b.WriteString(p.Text[end-p.Start:])
		}
		end = max(end, p.Start+len(p.Text))
	}
	return b.String(), true
}

// Split returns the chunks of text in order. Non-blank text always yields at
// least one chunk.
func (c Chunker) Split(text string) ([]string, error) {
	chunks, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	out := chunks[:0]
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) != "" {
			out = append(out, chunk)
		}
	}
	if len(out) == 0 && strings.TrimSpace(text) != "" {
		out = append(out, strings.TrimSpace(text))
	}
	return out, nil
}

// chunkID derives the id of a note's index-th chunk.
func chunkID(noteID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", noteID, index)
}

// reassemble rebuilds note text from chunks written without offsets, dropping
// the text each chunk repeats from the end of the previous one. Whitespace the
// splitter trimmed at chunk boundaries comes back as a single space.
func reassemble(chunks []string) string {
	var b strings.Builder
	prev := ""
	for i, chunk := range chunks {
		if i == 0 {
			b.WriteString(chunk)
			prev = chunk
			continue
		}
		if n := overlapLen(prev, chunk); n > 0 {
			b.WriteString(chunk[n:])
		} else {
			b.WriteString(" ")
			b.WriteString(chunk)
		}
		prev = chunk
	}
	return b.String()
}

// minOverlap keeps coincidental one or two character matches from being
// treated as overlap.
const minOverlap = 3

// overlapLen returns the length of the longest suffix of prev that is also a
// prefix of next, or 0 if shorter than minOverlap.
func overlapLen(prev, next string) int {
	maxLen := min(len(prev), len(next)-1)
	for n := maxLen; n >= minOverlap; n-- {
		if strings.HasSuffix(prev, next[:n]) {
			return n
		}
	}
	return 0
}
