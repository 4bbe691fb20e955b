package models

// CreateNoteRequest is the body of POST /notes. Timestamp accepts RFC 3339 or a
// naive ISO-8601 datetime and defaults to the time of the write.
type CreateNoteRequest struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags"`
	UserID    string   `json:"user_id"`
	Source    string   `json:"source"`
	Timestamp string   `json:"timestamp"`
}

// UpdateNoteRequest is the body of PUT /notes/{id}. Nil tags keep the stored ones.
type UpdateNoteRequest struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

type QueryRequest struct {
	Question string `json:"question" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
	TopK     int    `json:"top_k"`
}
