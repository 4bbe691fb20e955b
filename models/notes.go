package models

// Note is one logical note as returned by the listing and lookup endpoints.
// Text is reassembled from the note's chunks.
type Note struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NoteView echoes a created note.
type NoteView struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags"`
	UserID    string   `json:"user_id"`
	Source    string   `json:"source"`
	Timestamp string   `json:"timestamp"`
}

// GetAllNotesResponse is the structure for the response of the GET /notes endpoint.
type GetAllNotesResponse struct {
	Count int    `json:"count"`
	Notes []Note `json:"notes"`
}

// SourceDocument summarizes a chunk used to ground an answer. RelevanceScore is
// a distance and is null for chunks found by a metadata scan.
type SourceDocument struct {
	ChunkID        string   `json:"chunk_id"`
	NoteID         string   `json:"note_id"`
	TextSnippet    string   `json:"text_snippet"`
	RelevanceScore *float64 `json:"relevance_score"`
}
