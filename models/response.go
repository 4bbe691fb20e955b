package models

type CreateNoteResponse struct {
	Note          NoteView `json:"note"`
	ChunksCreated int      `json:"chunks_created"`
	ChunkIDs      []string `json:"chunk_ids"`
}

type UpdateNoteResponse struct {
	Message       string `json:"message"`
	ChunksUpdated int    `json:"chunks_updated"`
}

type DeleteNoteResponse struct {
	Message       string `json:"message"`
	ChunksDeleted int    `json:"chunks_deleted"`
}

// QueryResponse is returned by POST /query. ChunksFound is omitted for the
// informational "no notes" answers.
type QueryResponse struct {
	Answer      string           `json:"answer"`
	Sources     []SourceDocument `json:"sources"`
	ChunksFound int              `json:"chunks_found,omitempty"`
}

// DiagnosticsResponse is returned by GET /test-chroma.
type DiagnosticsResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	CollectionName string `json:"collection_name,omitempty"`
	DocumentCount  int    `json:"document_count"`
}
