package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/itish2003/memory-engine/metrics"
	"github.com/itish2003/memory-engine/models"
	"github.com/itish2003/memory-engine/store"
)

const fileSource = "file"

// IndexState is what the index knows about one imported file.
type IndexState struct {
	Hash   string
	NoteID string
}

// ImportedDocument is the extracted content of one file.
type ImportedDocument struct {
	Path    string
	Hash    string
	Text    string
	ModTime time.Time
}

// DocumentIndex is the part of the note service the importer writes through.
type DocumentIndex interface {
	ImportDocument(ctx context.Context, userID string, doc ImportedDocument) (int, error)
	IndexedFiles(ctx context.Context, userID string) (map[string]IndexState, error)
	DeleteNote(ctx context.Context, id, userID string) (*models.DeleteNoteResponse, error)
}

var _ DocumentIndex = (*MemoryService)(nil)

// FileIndexingService keeps the notes of one user in sync with a directory of
// .md, .txt and .pdf files.
type FileIndexingService struct {
	index   DocumentIndex
	userID  string
	extract func(path string) (string, error)
	logger  *zap.Logger
}

// NewFileIndexingService creates a new indexing service writing notes for userID.
func NewFileIndexingService(index DocumentIndex, userID string, logger *zap.Logger) *FileIndexingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileIndexingService{
		index:   index,
		userID:  userID,
		extract: ExtractTextFromFile,
		logger:  logger.Named("importer"),
	}
}

// ImportDocument stores doc as the file's note, replacing any earlier version.
func (s *MemoryService) ImportDocument(ctx context.Context, userID string, doc ImportedDocument) (int, error) {
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return 0, fmt.Errorf("%w: %s has no text", ErrInvalidNote, doc.Path)
	}
	noteID := fileNoteID(doc.Path)

	existing, err := s.store.List(ctx, store.ListOptions{UserID: userID, NoteID: noteID})
	if err != nil {
		return 0, fmt.Errorf("list existing chunks of %s: %w", doc.Path, err)
	}

	at := doc.ModTime
	if at.IsZero() {
		at = s.now().UTC()
	}
	ids, err := s.writeNote(ctx, noteDraft{
		ID:         noteID,
		Text:       text,
		UserID:     userID,
		Source:     fileSource,
		Timestamp:  at.Format(time.RFC3339Nano),
		SourceFile: doc.Path,
		FileHash:   doc.Hash,
	}, existing)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// IndexedFiles maps every imported file path of the user to its stored state.
func (s *MemoryService) IndexedFiles(ctx context.Context, userID string) (map[string]IndexState, error) {
	recs, err := s.store.List(ctx, store.ListOptions{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("list indexed files: %w", err)
	}
	state := make(map[string]IndexState)
	for _, rec := range recs {
		if rec.Metadata.SourceFile == "" {
			continue
		}
		if _, ok := state[rec.Metadata.SourceFile]; !ok {
			state[rec.Metadata.SourceFile] = IndexState{Hash: rec.Metadata.FileHash, NoteID: rec.NoteID}
		}
	}
	return state, nil
}

// ScanAndIndexDirectory syncs the directory with the index: new and changed
// files are imported, unchanged files skipped, and notes of vanished files removed.
func (s *FileIndexingService) ScanAndIndexDirectory(ctx context.Context, dirPath string) error {
	root, err := filepath.Abs(dirPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dirPath, err)
	}
	s.logger.Info("Starting directory scan", zap.String("dir", root))

	indexed, err := s.index.IndexedFiles(ctx, s.userID)
	if err != nil {
		return err
	}
	s.logger.Info("Loaded index state", zap.Int("files", len(indexed)))

	local := make(map[string]bool)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isSupportedFile(path) {
			return nil
		}
		local[path] = true

		hash, err := calculateFileHash(path)
		if err != nil {
			s.logger.Warn("Could not hash file", zap.String("path", path), zap.Error(err))
			metrics.ImportedFilesTotal.WithLabelValues("failed").Inc()
			return nil
		}
		if state, ok := indexed[path]; ok && state.Hash == hash {
			metrics.ImportedFilesTotal.WithLabelValues("skipped").Inc()
			return nil
		}
		s.importFile(ctx, path, hash)
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}

	for path := range indexed {
		if !local[path] && strings.HasPrefix(path, root+string(filepath.Separator)) {
			s.removeFile(ctx, path)
		}
	}
	s.logger.Info("Directory scan finished", zap.Int("files", len(local)))
	return nil
}

// WatchDirectory re-imports files on create and write and removes their notes
// on remove and rename. It blocks until ctx is cancelled.
func (s *FileIndexingService) WatchDirectory(ctx context.Context, dirPath string) error {
	root, err := filepath.Abs(dirPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dirPath, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	s.logger.Info("Watching directory", zap.String("dir", root))

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Watcher error", zap.Error(err))
		case <-ctx.Done():
			s.logger.Info("Context cancelled, shutting down watcher")
			return nil
		}
	}
}

func (s *FileIndexingService) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !isSupportedFile(event.Name) {
		return
	}
	s.logger.Debug("Watcher event", zap.String("event", event.String()))

	switch {
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		hash, err := calculateFileHash(event.Name)
		if err != nil {
			s.logger.Warn("Could not hash file", zap.String("path", event.Name), zap.Error(err))
			return
		}
		s.importFile(ctx, event.Name, hash)
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		s.removeFile(ctx, event.Name)
	}
}

func (s *FileIndexingService) importFile(ctx context.Context, path, hash string) {
	text, err := s.extract(path)
	if err != nil {
		s.logger.Error("Failed to extract file", zap.String("path", path), zap.Error(err))
		metrics.ImportedFilesTotal.WithLabelValues("failed").Inc()
		return
	}

	var modTime time.Time
	if info, err := os.Stat(path); err == nil {
		modTime = info.ModTime()
	}
	chunks, err := s.index.ImportDocument(ctx, s.userID, ImportedDocument{Path: path, Hash: hash, Text: text, ModTime: modTime})
	if err != nil {
		s.logger.Error("Failed to import file", zap.String("path", path), zap.Error(err))
		metrics.ImportedFilesTotal.WithLabelValues("failed").Inc()
		return
	}
	s.logger.Info("Indexed file", zap.String("path", path), zap.Int("chunks", chunks))
	metrics.ImportedFilesTotal.WithLabelValues("indexed").Inc()
}

func (s *FileIndexingService) removeFile(ctx context.Context, path string) {
	_, err := s.index.DeleteNote(ctx, fileNoteID(path), s.userID)
	switch {
	case errors.Is(err, ErrNoteNotFound):
		return
	case err != nil:
		s.logger.Error("Failed to remove file from index", zap.String("path", path), zap.Error(err))
		metrics.ImportedFilesTotal.WithLabelValues("failed").Inc()
		return
	}
	s.logger.Info("Removed file from index", zap.String("path", path))
	metrics.ImportedFilesTotal.WithLabelValues("removed").Inc()
}

// fileNoteID derives a stable note id from a file path.
func fileNoteID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return "file-" + hex.EncodeToString(sum[:16])
}

func isSupportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".pdf":
		return true
	default:
		return false
	}
}

func calculateFileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
