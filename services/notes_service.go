package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itish2003/memory-engine/logger"
	"github.com/itish2003/memory-engine/models"
	"github.com/itish2003/memory-engine/store"
)

const defaultSource = "note"

// noteDraft is a validated note ready to be chunked and written.
type noteDraft struct {
	ID         string
	Text       string
	Tags       []string
	UserID     string
	Source     string
	Timestamp  string
	SourceFile string
	FileHash   string
}

// IngestNote validates, chunks, embeds and stores a new note. A caller-chosen id
// that already belongs to the same user replaces that note.
func (s *MemoryService) IngestNote(ctx context.Context, req models.CreateNoteRequest) (*models.CreateNoteResponse, error) {
	draft, err := s.draftFromRequest(req)
	if err != nil {
		return nil, err
	}

	var existing []store.Record
	if req.ID != "" {
		owner, err := s.noteOwner(ctx, draft.ID)
		if err != nil {
			return nil, err
		}
		if owner != "" && owner != draft.UserID {
			return nil, fmt.Errorf("%w: %s", ErrNoteIDConflict, draft.ID)
		}
		existing, err = s.store.List(ctx, store.ListOptions{UserID: draft.UserID, NoteID: draft.ID})
		if err != nil {
			return nil, fmt.Errorf("list existing chunks of %s: %w", draft.ID, err)
		}
	}

	ids, err := s.writeNote(ctx, draft, existing)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("Ingested note",
		zap.String("note_id", draft.ID),
		zap.String("user_id", draft.UserID),
		zap.Int("chunks", len(ids)),
	)
	return &models.CreateNoteResponse{
		Note: models.NoteView{
			ID:        draft.ID,
			Text:      draft.Text,
			Tags:      draft.Tags,
			UserID:    draft.UserID,
			Source:    draft.Source,
			Timestamp: draft.Timestamp,
		},
		ChunksCreated: len(ids),
		ChunkIDs:      ids,
	}, nil
}

// GetAllNotes returns one entry per note of the user, newest first.
func (s *MemoryService) GetAllNotes(ctx context.Context, userID string) (*models.GetAllNotesResponse, error) {
	recs, err := s.store.List(ctx, store.ListOptions{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	notes := groupNotes(recs)
	logger.FromContext(ctx, s.logger).Debug("Listed notes",
		zap.String("user_id", userID),
		zap.Int("notes", len(notes)),
		zap.Int("chunks", len(recs)),
	)
	return &models.GetAllNotesResponse{Count: len(notes), Notes: notes}, nil
}

// GetNote looks id up first as a note id, then as a chunk id.
func (s *MemoryService) GetNote(ctx context.Context, id, userID string) (*models.Note, error) {
	recs, err := s.store.List(ctx, store.ListOptions{UserID: userID, NoteID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	if len(recs) > 0 {
		return &groupNotes(recs)[0], nil
	}

	recs, err = s.store.List(ctx, store.ListOptions{UserID: userID, IDs: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %s: %w", id, err)
	}
	if len(recs) == 0 {
		return nil, ErrNoteNotFound
	}
	return &models.Note{ID: recs[0].ChunkID, Text: recs[0].Text, Metadata: recs[0].Metadata.Map()}, nil
}

// UpdateNote replaces the note's text and, when given, its tags. Source and
// timestamp are kept.
func (s *MemoryService) UpdateNote(ctx context.Context, id, userID string, req models.UpdateNoteRequest) (*models.UpdateNoteResponse, error) {
	existing, err := s.store.List(ctx, store.ListOptions{UserID: userID, NoteID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	if len(existing) == 0 {
		return nil, ErrNoteNotFound
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidNote)
	}
	first := slices.MinFunc(existing, func(a, b store.Record) int {
		return cmp.Compare(a.Metadata.ChunkIndex, b.Metadata.ChunkIndex)
	}).Metadata

	tags := first.TagList()
	if req.Tags != nil {
		if tags, err = cleanTags(req.Tags); err != nil {
			return nil, err
		}
	}

	ids, err := s.writeNote(ctx, noteDraft{
		ID:         id,
		Text:       text,
		Tags:       tags,
		UserID:     userID,
		Source:     first.Source,
		Timestamp:  first.Timestamp,
		SourceFile: first.SourceFile,
		FileHash:   first.FileHash,
	}, existing)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("Updated note",
		zap.String("note_id", id),
		zap.Int("chunks_before", len(existing)),
		zap.Int("chunks_after", len(ids)),
	)
	return &models.UpdateNoteResponse{Message: "Note updated successfully", ChunksUpdated: len(ids)}, nil
}

// DeleteNote removes every chunk of the note.
func (s *MemoryService) DeleteNote(ctx context.Context, id, userID string) (*models.DeleteNoteResponse, error) {
	existing, err := s.store.List(ctx, store.ListOptions{UserID: userID, NoteID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	if len(existing) == 0 {
		return nil, ErrNoteNotFound
	}

	ids := make([]string, len(existing))
	for i, rec := range existing {
		ids[i] = rec.ChunkID
	}
	if err := s.store.Delete(ctx, ids); err != nil {
		return nil, fmt.Errorf("failed to delete note %s: %w", id, err)
	}

	logger.FromContext(ctx, s.logger).Info("Deleted note", zap.String("note_id", id), zap.Int("chunks", len(ids)))
	return &models.DeleteNoteResponse{Message: "Note deleted successfully", ChunksDeleted: len(ids)}, nil
}

// writeNote upserts the draft's chunks and then deletes the chunks of existing
// that the new chunking no longer produces. Returns the new chunk ids.
func (s *MemoryService) writeNote(ctx context.Context, draft noteDraft, existing []store.Record) ([]string, error) {
	pieces, err := s.chunker.Pieces(draft.Text)
	if err != nil {
		return nil, fmt.Errorf("chunk note %s: %w", draft.ID, err)
	}

	chunks := make([]store.Chunk, len(pieces))
	ids := make([]string, len(pieces))
	for i, piece := range pieces {
		vec, err := s.clients.Embed(ctx, piece.Text)
		if err != nil {
			return nil, fmt.Errorf("could not generate embedding for chunk %d of note %s: %w", i, draft.ID, err)
		}
		ids[i] = chunkID(draft.ID, i)
		chunks[i] = store.Chunk{
			ID:        ids[i],
			Text:      piece.Text,
			Embedding: vec,
			Metadata: store.Metadata{
				Tags:        strings.Join(draft.Tags, ","),
				UserID:      draft.UserID,
				Source:      draft.Source,
				Timestamp:   draft.Timestamp,
				NoteID:      draft.ID,
				ChunkIndex:  i,
				TotalChunks: len(pieces),
				ChunkStart:  piece.Start,
				ChunkLead:   piece.Lead,
				SourceFile:  draft.SourceFile,
				FileHash:    draft.FileHash,
			},
		}
	}

	if err := s.store.Upsert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to store note %s: %w", draft.ID, err)
	}

	var stale []string
	for _, rec := range existing {
		if !slices.Contains(ids, rec.ChunkID) {
			stale = append(stale, rec.ChunkID)
		}
	}
	if err := s.store.Delete(ctx, stale); err != nil {
		return nil, fmt.Errorf("failed to remove stale chunks of note %s: %w", draft.ID, err)
	}
	return ids, nil
}

// noteOwner returns the user owning note id, or "" if the note does not exist.
func (s *MemoryService) noteOwner(ctx context.Context, id string) (string, error) {
	recs, err := s.store.Lookup(ctx, []string{chunkID(id, 0)})
	if err != nil {
		return "", fmt.Errorf("look up note %s: %w", id, err)
	}
	if len(recs) == 0 {
		return "", nil
	}
	return recs[0].Metadata.UserID, nil
}

func (s *MemoryService) draftFromRequest(req models.CreateNoteRequest) (noteDraft, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return noteDraft{}, fmt.Errorf("%w: text is required", ErrInvalidNote)
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return noteDraft{}, fmt.Errorf("%w: user_id is required", ErrInvalidNote)
	}
	tags, err := cleanTags(req.Tags)
	if err != nil {
		return noteDraft{}, err
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = defaultSource
	}

	timestamp := s.now().UTC().Format(time.RFC3339Nano)
	if req.Timestamp != "" {
		t, ok := parseTimestamp(req.Timestamp)
		if !ok {
			return noteDraft{}, fmt.Errorf("%w: timestamp %q is not ISO-8601", ErrInvalidNote, req.Timestamp)
		}
		timestamp = t.Format(time.RFC3339Nano)
	}

	return noteDraft{
		ID:        id,
		Text:      text,
		Tags:      tags,
		UserID:    userID,
		Source:    source,
		Timestamp: timestamp,
	}, nil
}

// cleanTags trims tags and drops empty ones. Commas are rejected because tags
// are stored comma-joined.
func cleanTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if strings.Contains(tag, ",") {
			return nil, fmt.Errorf("%w: tag %q must not contain a comma", ErrInvalidNote, tag)
		}
		out = append(out, tag)
	}
	return out, nil
}

// groupNotes folds chunk records into logical notes, newest first. Chunks
// without a note id stand alone under their chunk id.
func groupNotes(recs []store.Record) []models.Note {
	groups := make(map[string][]store.Record)
	var order []string
	for _, rec := range recs {
		key := rec.NoteID
		if key == "" {
			key = rec.ChunkID
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	type dated struct {
		note models.Note
		at   time.Time
	}
	notes := make([]dated, 0, len(order))
	for _, key := range order {
		chunks := groups[key]
		slices.SortStableFunc(chunks, func(a, b store.Record) int {
			return cmp.Compare(a.Metadata.ChunkIndex, b.Metadata.ChunkIndex)
		})
		at, _ := parseTimestamp(chunks[0].Metadata.Timestamp)
		notes = append(notes, dated{
			note: models.Note{ID: key, Text: noteText(chunks), Metadata: noteMetadata(chunks[0].Metadata, len(chunks))},
			at:   at,
		})
	}

	slices.SortStableFunc(notes, func(a, b dated) int {
		if c := b.at.Compare(a.at); c != 0 {
			return c
		}
		return cmp.Compare(a.note.ID, b.note.ID)
	})

	out := make([]models.Note, len(notes))
	for i, n := range notes {
		out[i] = n.note
	}
	return out
}

// noteText rebuilds a note from its chunks sorted by index. Chunks stored with
// their offsets are joined exactly; older chunks fall back to overlap matching.
func noteText(chunks []store.Record) string {
	pieces := make([]Piece, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		pieces[i] = Piece{Text: c.Text, Start: c.Metadata.ChunkStart, Lead: c.Metadata.ChunkLead}
		texts[i] = c.Text
	}
	if text, ok := joinPieces(pieces); ok {
		return text
	}
	return reassemble(texts)
}

func noteMetadata(m store.Metadata, chunks int) map[string]any {
	meta := m.Map()
	delete(meta, store.KeyChunkIndex)
	delete(meta, store.KeyChunkStart)
	delete(meta, store.KeyChunkLead)
	meta[store.KeyTotalChunks] = chunks
	if m.SourceFile == "" {
		delete(meta, store.KeySourceFile)
		delete(meta, store.KeyFileHash)
	}
	return meta
}
