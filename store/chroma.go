package store

import (
	"context"
	"encoding/json"
	"fmt"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"go.uber.org/zap"
)

// ChromaStore keeps chunks in a Chroma server collection.
type ChromaStore struct {
	client     chromago.Client
	collection chromago.Collection
	logger     *zap.Logger
}

var _ Store = (*ChromaStore)(nil)

// NewChromaStore connects to Chroma and gets or creates the named collection.
func NewChromaStore(ctx context.Context, baseURL, collectionName string, logger *zap.Logger) (*ChromaStore, error) {
	var opts []chromago.ClientOption
	if baseURL != "" {
		opts = append(opts, chromago.WithBaseURL(baseURL))
	}
	client, err := chromago.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create chroma client: %w", err)
	}

	logger.Info("Getting or creating chroma collection", zap.String("collection", collectionName))
	collection, err := client.GetOrCreateCollection(
		ctx,
		collectionName,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("description", "Memory engine document storage"),
				chromago.NewStringAttribute("created_by", "memory-engine"),
			),
		),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get or create collection %q: %w", collectionName, err)
	}

	return &ChromaStore{client: client, collection: collection, logger: logger}, nil
}

// Name returns the collection name.
func (s *ChromaStore) Name() string {
	return s.collection.Name()
}

// Upsert writes the chunks with their precomputed embeddings.
func (s *ChromaStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]chromago.DocumentID, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	vectors := make([]embeddings.Embedding, 0, len(chunks))
	metas := make([]chromago.DocumentMetadata, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, chromago.DocumentID(c.ID))
		texts = append(texts, c.Text)
		vectors = append(vectors, embeddings.NewEmbeddingFromFloat32(c.Embedding))
		metas = append(metas, chromago.NewDocumentMetadata(
			chromago.NewStringAttribute(KeyTags, c.Metadata.Tags),
			chromago.NewStringAttribute(KeyUserID, c.Metadata.UserID),
			chromago.NewStringAttribute(KeySource, c.Metadata.Source),
			chromago.NewStringAttribute(KeyTimestamp, c.Metadata.Timestamp),
			chromago.NewStringAttribute(KeyNoteID, c.Metadata.NoteID),
			chromago.NewIntAttribute(KeyChunkIndex, int64(c.Metadata.ChunkIndex)),
			chromago.NewIntAttribute(KeyTotalChunks, int64(c.Metadata.TotalChunks)),
			chromago.NewIntAttribute(KeyChunkStart, int64(c.Metadata.ChunkStart)),
			chromago.NewStringAttribute(KeyChunkLead, c.Metadata.ChunkLead),
			chromago.NewStringAttribute(KeySourceFile, c.Metadata.SourceFile),
			chromago.NewStringAttribute(KeyFileHash, c.Metadata.FileHash),
		))
	}

	err := s.collection.Upsert(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(vectors...),
		chromago.WithMetadatas(metas...),
	)
	if err != nil {
		return fmt.Errorf("upsert %d chunks to chromadb: %w", len(chunks), err)
	}
	return nil
}

// List scans the user's chunks, optionally narrowed to one note or to ids.
func (s *ChromaStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	if opts.UserID == "" {
		return nil, ErrUserRequired
	}

	where := chromago.EqString(KeyUserID, opts.UserID)
	if opts.NoteID != "" {
		where = chromago.And(where, chromago.EqString(KeyNoteID, opts.NoteID))
	}

	getOpts := []chromago.CollectionGetOption{chromago.WithWhereGet(where)}
	if len(opts.IDs) > 0 {
		getOpts = append(getOpts, chromago.WithIDsGet(toDocumentIDs(opts.IDs)...))
	}
	if opts.Limit > 0 {
		getOpts = append(getOpts, chromago.WithLimitGet(opts.Limit))
	}

	results, err := s.collection.Get(ctx, getOpts...)
	if err != nil {
		return nil, fmt.Errorf("get documents from chromadb: %w", err)
	}
	return s.getResultRecords(results), nil
}

func (s *ChromaStore) getResultRecords(results chromago.GetResult) []Record {
	ids := results.GetIDs()
	documents := results.GetDocuments()
	metadatas := results.GetMetadatas()

	idCol := make([]string, len(ids))
	for i, id := range ids {
		idCol[i] = string(id)
	}
	docCol := make([]string, len(documents))
	for i := range documents {
		docCol[i] = documents[i].ContentString()
	}
	metaCol := make([]map[string]any, len(metadatas))
	for i := range metadatas {
		if metadatas[i] != nil {
			metaCol[i] = s.metadataToMap(metadatas[i])
		}
	}

	return flatResult(idCol, docCol, metaCol, nil).records()
}

// Lookup fetches chunks by id across all users.
func (s *ChromaStore) Lookup(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}
	results, err := s.collection.Get(ctx, chromago.WithIDsGet(toDocumentIDs(ids)...))
	if err != nil {
		return nil, fmt.Errorf("get documents by id from chromadb: %w", err)
	}
	return s.getResultRecords(results), nil
}

// Search runs a similarity query restricted to the user's chunks.
func (s *ChromaStore) Search(ctx context.Context, embedding []float32, userID string, n int) ([]Record, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	results, err := s.collection.Query(
		ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(embedding)),
		chromago.WithNResults(n),
		chromago.WithWhereQuery(chromago.EqString(KeyUserID, userID)),
	)
	if err != nil {
		return nil, fmt.Errorf("query chromadb: %w", err)
	}

	var raw rawResult
	for _, group := range results.GetIDGroups() {
		ids := make([]string, len(group))
		for i, id := range group {
			ids[i] = string(id)
		}
		raw.ids = append(raw.ids, ids)
	}
	for _, group := range results.GetDocumentsGroups() {
		docs := make([]string, len(group))
		for i := range group {
			docs[i] = group[i].ContentString()
		}
		raw.documents = append(raw.documents, docs)
	}
	for _, group := range results.GetMetadatasGroups() {
		metas := make([]map[string]any, len(group))
		for i := range group {
			if group[i] != nil {
				metas[i] = s.metadataToMap(group[i])
			}
		}
		raw.metadatas = append(raw.metadatas, metas)
	}
	for _, group := range results.GetDistancesGroups() {
		dists := make([]float64, len(group))
		for i := range group {
			dists[i] = float64(group[i])
		}
		raw.distances = append(raw.distances, dists)
	}

	return raw.records(), nil
}

// Delete removes chunks by id.
func (s *ChromaStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, chromago.WithIDsDelete(toDocumentIDs(ids)...)); err != nil {
		return fmt.Errorf("delete %d chunks from chromadb: %w", len(ids), err)
	}
	return nil
}

// Count counts every chunk in the collection.
func (s *ChromaStore) Count(ctx context.Context) (int, error) {
	count, err := s.collection.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count items in collection: %w", err)
	}
	return int(count), nil
}

// Close releases the client.
func (s *ChromaStore) Close() error {
	return s.client.Close()
}

// metadataToMap converts chroma metadata into a plain map. DocumentMetadata has no
// generic accessor, so it goes through its JSON form.
func (s *ChromaStore) metadataToMap(metadata chromago.DocumentMetadata) map[string]any {
	jsonBytes, err := json.Marshal(metadata)
	if err != nil {
		s.logger.Warn("could not marshal chunk metadata", zap.Error(err))
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(jsonBytes, &out); err != nil {
		s.logger.Warn("could not unmarshal chunk metadata", zap.Error(err))
		return map[string]any{}
	}
	return out
}

func toDocumentIDs(ids []string) []chromago.DocumentID {
	out := make([]chromago.DocumentID, len(ids))
	for i, id := range ids {
		out[i] = chromago.DocumentID(id)
	}
	return out
}
