package services

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/itish2003/memory-engine/store"
)

var testNow = time.Date(2025, 3, 6, 15, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// bagOfWords hashes lowercase words into a small vector with a constant
// component so no vector is zero.
func bagOfWords(text string) []float32 {
	vec := make([]float32, 17)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%16]++
	}
	vec[16] = 0.5
	return vec
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return bagOfWords(text), nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeGenerator echoes the grounding context back unless answer or err is set.
type fakeGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	panics  bool
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panics {
		panic("generator exploded")
	}
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func (g *fakeGenerator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type testEnv struct {
	svc       *MemoryService
	store     *store.ChromemStore
	embedder  *fakeEmbedder
	generator *fakeGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	emb := &fakeEmbedder{}
	gen := &fakeGenerator{answer: "From your notes: you met Alice on project X."}
	clients := NewClients(
		func() (Embedder, error) { return emb, nil },
		func() (Generator, error) { return gen, nil },
	)
	st, err := store.NewChromemStore("", "services_test", clients.Embed, zap.NewNop())
	require.NoError(t, err)

	svc := NewMemoryService(Deps{
		Store:   st,
		Clients: clients,
		Chunker: NewChunker(1000, 200),
		Now:     fixedClock,
		Logger:  zap.NewNop(),
	})
	return &testEnv{svc: svc, store: st, embedder: emb, generator: gen}
}

// seedChunk writes a single-chunk note directly, bypassing validation so tests
// can store timestamps the API would reject.
func seedChunk(t *testing.T, s store.Store, noteID, userID, text, tags, timestamp string) {
	t.Helper()
	require.NoError(t, s.Upsert(context.Background(), []store.Chunk{{
		ID:        chunkID(noteID, 0),
		Text:      text,
		Embedding: bagOfWords(text),
		Metadata: store.Metadata{
			Tags:        tags,
			UserID:      userID,
			Source:      "note",
			Timestamp:   timestamp,
			NoteID:      noteID,
			ChunkIndex:  0,
			TotalChunks: 1,
		},
	}}))
}

func recordNoteIDs(recs []store.Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.NoteID
	}
	return ids
}
