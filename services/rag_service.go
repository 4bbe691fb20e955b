package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/itish2003/memory-engine/logger"
	"github.com/itish2003/memory-engine/metrics"
	"github.com/itish2003/memory-engine/models"
	"github.com/itish2003/memory-engine/store"
)

var (
	// ErrNoteNotFound is returned when the note does not exist for the user.
	ErrNoteNotFound = errors.New("note not found")
	// ErrInvalidNote is returned for note input that fails validation.
	ErrInvalidNote = errors.New("invalid note")
	// ErrNoteIDConflict is returned when a caller-chosen note id belongs to another user.
	ErrNoteIDConflict = errors.New("note id belongs to another user")
	// ErrInvalidQuery is returned for a blank question or a missing user id.
	ErrInvalidQuery = errors.New("invalid query")
)

// RAGService interface defines the note and question operations served over HTTP.
type RAGService interface {
	IngestNote(ctx context.Context, req models.CreateNoteRequest) (*models.CreateNoteResponse, error)
	GetAllNotes(ctx context.Context, userID string) (*models.GetAllNotesResponse, error)
	GetNote(ctx context.Context, id, userID string) (*models.Note, error)
	UpdateNote(ctx context.Context, id, userID string, req models.UpdateNoteRequest) (*models.UpdateNoteResponse, error)
	DeleteNote(ctx context.Context, id, userID string) (*models.DeleteNoteResponse, error)
	QueryRAG(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error)
	Diagnostics(ctx context.Context) (*models.DiagnosticsResponse, error)
}

// Deps are the collaborators of a MemoryService. Now defaults to time.Now and a
// zero QueryTimeout leaves queries bounded only by the caller's context.
type Deps struct {
	Store        store.Store
	Clients      *Clients
	Chunker      Chunker
	Limits       QueryLimits
	QueryTimeout time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// MemoryService implements RAGService on top of a vector store.
type MemoryService struct {
	store     store.Store
	clients   *Clients
	chunker   Chunker
	retriever *Retriever
	limits    QueryLimits
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

var _ RAGService = (*MemoryService)(nil)

// NewMemoryService creates a new service instance.
func NewMemoryService(deps Deps) *MemoryService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	limits := deps.Limits.withDefaults()
	return &MemoryService{
		store:     deps.Store,
		clients:   deps.Clients,
		chunker:   deps.Chunker,
		retriever: NewRetriever(deps.Store, deps.Clients.Embed, deps.Now, limits, deps.Logger),
		limits:    limits,
		timeout:   deps.QueryTimeout,
		now:       deps.Now,
		logger:    deps.Logger,
	}
}

// QueryRAG answers a question from the user's notes. Panics anywhere in the
// pipeline come back as errors.
func (s *MemoryService) QueryRAG(ctx context.Context, req models.QueryRequest) (resp *models.QueryResponse, err error) {
	log := logger.FromContext(ctx, s.logger)
	strategy := "none"
	defer func() {
		if p := recover(); p != nil {
			log.Error("Query pipeline panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			resp, err = nil, fmt.Errorf("internal error: %v", p)
		}
		switch {
		case err != nil:
			metrics.QueriesTotal.WithLabelValues(strategy, "error").Inc()
		case resp.ChunksFound == 0:
			metrics.QueriesTotal.WithLabelValues(strategy, "empty").Inc()
		default:
			metrics.QueriesTotal.WithLabelValues(strategy, "answered").Inc()
		}
	}()

	if strings.TrimSpace(req.Question) == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: question and user_id are required", ErrInvalidQuery)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.limits.DefaultTopK
	}

	filters := Extract(req.Question)
	ret, err := s.retriever.Retrieve(ctx, req.UserID, req.Question, topK, filters)
	if err != nil {
		return nil, err
	}
	strategy = string(ret.Strategy)

	if ret.Message != "" {
		return &models.QueryResponse{Answer: ret.Message, Sources: []models.SourceDocument{}}, nil
	}

	grounding := buildContext(ret)
	gen, err := s.clients.Generator()
	if err != nil {
		return nil, fmt.Errorf("create generation client: %w", err)
	}
	answer, err := gen.Generate(ctx, BuildAnswerPrompt(req.Question, grounding.Disclosure, grounding.Text))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	log.Info("Answered question",
		zap.String("user_id", req.UserID),
		zap.String("strategy", strategy),
		zap.Int("chunks", len(ret.Records)),
	)
	return &models.QueryResponse{
		Answer:      answer,
		Sources:     grounding.Sources,
		ChunksFound: len(ret.Records),
	}, nil
}

// Diagnostics reports the backing collection and its size.
func (s *MemoryService) Diagnostics(ctx context.Context) (*models.DiagnosticsResponse, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks in %s: %w", s.store.Name(), err)
	}
	return &models.DiagnosticsResponse{
		Status:         "ok",
		Message:        "Vector store connected successfully",
		CollectionName: s.store.Name(),
		DocumentCount:  count,
	}, nil
}
