package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// scanText is embedded to get a scan vector when no chunk has been written
// since the store was opened. chromem has no filtered "get all", so scans run a
// query wide enough to return every match and ignore its ranking.
const scanText = "note"

// ChromemStore keeps chunks in an embedded chromem-go collection, persisted to
// disk when a path is given and in memory otherwise.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embed      chromem.EmbeddingFunc
	logger     *zap.Logger

	scanMu  sync.Mutex
	scanVec []float32
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens (or creates) the collection. embed is called at most
// once, for the scan vector of a reopened collection; chunks are always written
// with precomputed embeddings.
func NewChromemStore(path, collectionName string, embed chromem.EmbeddingFunc, logger *zap.Logger) (*ChromemStore, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %q: %w", path, err)
		}
	}

	collection, err := db.GetOrCreateCollection(collectionName, map[string]string{
		"description": "Memory engine document storage",
		"hnsw:space":  "cosine",
	}, embed)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", collectionName, err)
	}

	logger.Info("Opened chromem collection",
		zap.String("collection", collectionName),
		zap.String("path", path),
		zap.Int("documents", collection.Count()),
	)
	return &ChromemStore{db: db, collection: collection, embed: embed, logger: logger}, nil
}

// Name returns the collection name.
func (s *ChromemStore) Name() string {
	return s.collection.Name
}

// Upsert writes the chunks. chromem replaces documents that share an id.
func (s *ChromemStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Metadata:  c.Metadata.StringMap(),
			Embedding: c.Embedding,
			Content:   c.Text,
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("upsert %d chunks to chromem: %w", len(chunks), err)
	}
	s.rememberScanVector(chunks[0].Embedding)
	return nil
}

func (s *ChromemStore) rememberScanVector(embedding []float32) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scanVec == nil && len(embedding) > 0 {
		s.scanVec = slices.Clone(embedding)
	}
}

// scanVector returns any vector of the collection's dimension. Only its length
// matters since scan results are reordered by id.
func (s *ChromemStore) scanVector(ctx context.Context) ([]float32, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scanVec != nil {
		return s.scanVec, nil
	}
	if s.embed == nil {
		return nil, fmt.Errorf("no embedding function for scans")
	}
	vec, err := s.embed(ctx, scanText)
	if err != nil {
		return nil, fmt.Errorf("embed scan text: %w", err)
	}
	s.scanVec = vec
	return vec, nil
}

// List scans the user's chunks, optionally narrowed to one note or to ids.
func (s *ChromemStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	if opts.UserID == "" {
		return nil, ErrUserRequired
	}

	where := map[string]string{KeyUserID: opts.UserID}
	if opts.NoteID != "" {
		where[KeyNoteID] = opts.NoteID
	}

	if len(opts.IDs) > 0 {
		return s.listByID(ctx, opts.IDs, where, opts.Limit), nil
	}

	n := s.collection.Count()
	if n == 0 {
		return []Record{}, nil
	}
	vec, err := s.scanVector(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan chromem collection: %w", err)
	}

	results, err := s.collection.QueryEmbedding(ctx, vec, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("scan chromem collection: %w", err)
	}
	slices.SortFunc(results, func(a, b chromem.Result) int { return strings.Compare(a.ID, b.ID) })
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	ids, docs, metas, _ := columns(results)
	return flatResult(ids, docs, metas, nil).records(), nil
}

// Lookup fetches chunks by id across all users.
func (s *ChromemStore) Lookup(ctx context.Context, ids []string) ([]Record, error) {
	return s.listByID(ctx, ids, nil, 0), nil
}

func (s *ChromemStore) listByID(ctx context.Context, ids []string, where map[string]string, limit int) []Record {
	var found []chromem.Result
	for _, id := range ids {
		doc, err := s.collection.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if !matches(doc.Metadata, where) {
			continue
		}
		found = append(found, chromem.Result{ID: doc.ID, Metadata: doc.Metadata, Content: doc.Content})
		if limit > 0 && len(found) == limit {
			break
		}
	}
	colIDs, docs, metas, _ := columns(found)
	return flatResult(colIDs, docs, metas, nil).records()
}

// Search runs a similarity query restricted to the user's chunks. Scores are
// cosine distances (1 - similarity).
func (s *ChromemStore) Search(ctx context.Context, embedding []float32, userID string, n int) ([]Record, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	total := s.collection.Count()
	if total == 0 || n <= 0 {
		return []Record{}, nil
	}
	if n > total {
		n = total
	}

	results, err := s.collection.QueryEmbedding(ctx, embedding, n, map[string]string{KeyUserID: userID}, nil)
	if err != nil {
		return nil, fmt.Errorf("query chromem collection: %w", err)
	}
	ids, docs, metas, dists := columns(results)
	return flatResult(ids, docs, metas, dists).records(), nil
}

// Delete removes chunks by id.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete %d chunks from chromem: %w", len(ids), err)
	}
	return nil
}

// Count counts every chunk in the collection.
func (s *ChromemStore) Count(_ context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close is a no-op; persistent chromem writes are synchronous.
func (s *ChromemStore) Close() error {
	return nil
}

func columns(results []chromem.Result) (ids, docs []string, metas []map[string]any, dists []float64) {
	ids = make([]string, len(results))
	docs = make([]string, len(results))
	metas = make([]map[string]any, len(results))
	dists = make([]float64, len(results))
	for i, r := range results {
		ids[i] = r.ID
		docs[i] = r.Content
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		metas[i] = meta
		dists[i] = 1 - float64(r.Similarity)
	}
	return ids, docs, metas, dists
}

func matches(metadata, where map[string]string) bool {
	for k, v := range where {
		if metadata[k] != v {
			return false
		}
	}
	return true
}
