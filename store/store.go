// Package store holds the vector store backends that persist note chunks.
//
// Every backend returns retrieval hits as []Record regardless of whether they came
// from a metadata scan or a similarity search.
package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// ErrUserRequired is returned when a scoped operation is called without a user id.
var ErrUserRequired = errors.New("user id is required")

// Metadata keys stored alongside every chunk.
const (
	KeyTags        = "tags"
	KeyUserID      = "user_id"
	KeySource      = "source"
	KeyTimestamp   = "timestamp"
	KeyNoteID      = "note_id"
	KeyChunkIndex  = "chunk_index"
	KeyTotalChunks = "total_chunks"
	KeyChunkStart  = "chunk_start"
	KeyChunkLead   = "chunk_lead"
	KeySourceFile  = "source_file"
	KeyFileHash    = "file_hash"
)

// Metadata is the fixed metadata schema of a chunk.
type Metadata struct {
	Tags        string `json:"tags"`
	UserID      string `json:"user_id"`
	Source      string `json:"source"`
	Timestamp   string `json:"timestamp"`
	NoteID      string `json:"note_id"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	// ChunkStart is the byte offset of the chunk in the note text, -1 when
	// unknown. ChunkLead is the note text between the previous chunk and this one.
	ChunkStart int    `json:"chunk_start"`
	ChunkLead  string `json:"chunk_lead"`
	SourceFile string `json:"source_file,omitempty"`
	FileHash   string `json:"file_hash,omitempty"`
}

// Chunk is a slice of a note ready to be written.
type Chunk struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  Metadata
}

// Record is a canonical retrieval hit. Score is only set for similarity hits and
// holds a distance: lower is closer.
type Record struct {
	ChunkID  string
	NoteID   string
	Text     string
	Metadata Metadata
	Score    *float64
}

// ListOptions scopes a metadata scan.
type ListOptions struct {
	UserID string
	NoteID string
	IDs    []string
	Limit  int
}

// Store is the contract the note services depend on.
type Store interface {
	// Name identifies the underlying collection.
	Name() string
	// Upsert writes chunks, replacing any existing chunk with the same id.
	Upsert(ctx context.Context, chunks []Chunk) error
	// List scans the user's chunks without similarity ranking.
	List(ctx context.Context, opts ListOptions) ([]Record, error)
	// Lookup fetches chunks by id regardless of owner. It backs ownership checks
	// and must not be used to serve user-facing reads.
	Lookup(ctx context.Context, ids []string) ([]Record, error)
	// Search returns up to n of the user's chunks closest to embedding.
	Search(ctx context.Context, embedding []float32, userID string, n int) ([]Record, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Map returns the metadata as a generic attribute map.
func (m Metadata) Map() map[string]any {
	return map[string]any{
		KeyTags:        m.Tags,
		KeyUserID:      m.UserID,
		KeySource:      m.Source,
		KeyTimestamp:   m.Timestamp,
		KeyNoteID:      m.NoteID,
		KeyChunkIndex:  m.ChunkIndex,
		KeyTotalChunks: m.TotalChunks,
		KeyChunkStart:  m.ChunkStart,
		KeyChunkLead:   m.ChunkLead,
		KeySourceFile:  m.SourceFile,
		KeyFileHash:    m.FileHash,
	}
}

// StringMap returns the metadata with every value rendered as a string.
func (m Metadata) StringMap() map[string]string {
	return map[string]string{
		KeyTags:        m.Tags,
		KeyUserID:      m.UserID,
		KeySource:      m.Source,
		KeyTimestamp:   m.Timestamp,
		KeyNoteID:      m.NoteID,
		KeyChunkIndex:  strconv.Itoa(m.ChunkIndex),
		KeyTotalChunks: strconv.Itoa(m.TotalChunks),
		KeyChunkStart:  strconv.Itoa(m.ChunkStart),
		KeyChunkLead:   m.ChunkLead,
		KeySourceFile:  m.SourceFile,
		KeyFileHash:    m.FileHash,
	}
}

// TagList splits the stored comma-joined tag string.
func (m Metadata) TagList() []string {
	if m.Tags == "" {
		return []string{}
	}
	parts := strings.Split(m.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// MetadataFromMap reads the fixed schema out of a decoded attribute map. Unknown
// keys are ignored and missing keys stay zero.
func MetadataFromMap(raw map[string]any) Metadata {
	return Metadata{
		Tags:        stringValue(raw[KeyTags]),
		UserID:      stringValue(raw[KeyUserID]),
		Source:      stringValue(raw[KeySource]),
		Timestamp:   stringValue(raw[KeyTimestamp]),
		NoteID:      stringValue(raw[KeyNoteID]),
		ChunkIndex:  intValue(raw[KeyChunkIndex]),
		TotalChunks: intValue(raw[KeyTotalChunks]),
		ChunkStart:  intValue(raw[KeyChunkStart]),
		ChunkLead:   stringValue(raw[KeyChunkLead]),
		SourceFile:  stringValue(raw[KeySourceFile]),
		FileHash:    stringValue(raw[KeyFileHash]),
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
