package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/itish2003/memory-engine/store"
)

type importerEnv struct {
	*testEnv
	importer *FileIndexingService
	dir      string

	mu        sync.Mutex
	extracted []string
}

func newImporterEnv(t *testing.T) *importerEnv {
	t.Helper()
	env := &importerEnv{testEnv: newTestEnv(t), dir: t.TempDir()}
	env.importer = NewFileIndexingService(env.svc, "u1", zap.NewNop())
	env.importer.extract = func(path string) (string, error) {
		env.mu.Lock()
		env.extracted = append(env.extracted, filepath.Base(path))
		env.mu.Unlock()
		return ExtractTextFromFile(path)
	}
	return env
}

func (e *importerEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *importerEnv) extractions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.extracted...)
}

func TestScanAndIndexDirectory(t *testing.T) {
	env := newImporterEnv(t)
	ctx := context.Background()
	md := env.write(t, "plans.md", "Plans: ship the importer.")
	txt := env.write(t, "nested/log.txt", "Called the bank.")
	env.write(t, "data.csv", "a,b,c")

	require.NoError(t, env.importer.ScanAndIndexDirectory(ctx, env.dir))

	assert.ElementsMatch(t, []string{"plans.md", "log.txt"}, env.extractions())

	indexed, err := env.svc.IndexedFiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, indexed, 2)
	assert.Equal(t, fileNoteID(md), indexed[md].NoteID)
	assert.Equal(t, fileNoteID(txt), indexed[txt].NoteID)

	hash, err := calculateFileHash(md)
	require.NoError(t, err)
	assert.Equal(t, hash, indexed[md].Hash)

	note, err := env.svc.GetNote(ctx, fileNoteID(md), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Plans: ship the importer.", note.Text)
	assert.Equal(t, "file", note.Metadata[store.KeySource])
	assert.Equal(t, md, note.Metadata[store.KeySourceFile])
}

func TestScanAndIndexDirectory_Resync(t *testing.T) {
	env := newImporterEnv(t)
	ctx := context.Background()
	keep := env.write(t, "keep.md", "unchanged")
	edit := env.write(t, "edit.md", "first draft")
	gone := env.write(t, "gone.txt", "temporary")

	require.NoError(t, env.importer.ScanAndIndexDirectory(ctx, env.dir))
	require.Len(t, env.extractions(), 3)

	env.write(t, "edit.md", "second draft")
	require.NoError(t, os.Remove(gone))
	require.NoError(t, env.importer.ScanAndIndexDirectory(ctx, env.dir))

	assert.Equal(t, []string{"edit.md", "gone.txt", "keep.md", "edit.md"}, env.extractions())

	indexed, err := env.svc.IndexedFiles(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, indexed, keep)
	assert.Contains(t, indexed, edit)
	assert.NotContains(t, indexed, gone)

	note, err := env.svc.GetNote(ctx, fileNoteID(edit), "u1")
	require.NoError(t, err)
	assert.Equal(t, "second draft", note.Text)
}

func TestScanAndIndexDirectory_LeavesOtherRootsAlone(t *testing.T) {
	env := newImporterEnv(t)
	ctx := context.Background()
	elsewhere := filepath.Join(t.TempDir(), "other.md")

	_, err := env.svc.ImportDocument(ctx, "u1", ImportedDocument{Path: elsewhere, Hash: "h", Text: "from another folder"})
	require.NoError(t, err)

	require.NoError(t, env.importer.ScanAndIndexDirectory(ctx, env.dir))

	indexed, err := env.svc.IndexedFiles(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, indexed, elsewhere)
}

func TestScanAndIndexDirectory_EmptyFileIsSkipped(t *testing.T) {
	env := newImporterEnv(t)
	ctx := context.Background()
	env.write(t, "blank.md", "   \n")
	ok := env.write(t, "ok.md", "content")

	require.NoError(t, env.importer.ScanAndIndexDirectory(ctx, env.dir))

	indexed, err := env.svc.IndexedFiles(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, indexed, 1)
	assert.Contains(t, indexed, ok)
}

func TestScanAndIndexDirectory_MissingDir(t *testing.T) {
	env := newImporterEnv(t)
	err := env.importer.ScanAndIndexDirectory(context.Background(), filepath.Join(env.dir, "nope"))
	assert.Error(t, err)
}

func TestImportDocument_UsesModTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	modTime := time.Date(2025, 2, 14, 8, 30, 0, 0, time.UTC)

	chunks, err := env.svc.ImportDocument(ctx, "u1", ImportedDocument{
		Path: "/notes/valentine.md", Hash: "abc", Text: "Dinner booked", ModTime: modTime,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, chunks)

	note, err := env.svc.GetNote(ctx, fileNoteID("/notes/valentine.md"), "u1")
	require.NoError(t, err)
	assert.Equal(t, "2025-02-14T08:30:00Z", note.Metadata[store.KeyTimestamp])
	assert.Equal(t, "abc", note.Metadata[store.KeyFileHash])

	_, err = env.svc.ImportDocument(ctx, "u1", ImportedDocument{Path: "/notes/empty.md", Text: " "})
	assert.ErrorIs(t, err, ErrInvalidNote)
}

func TestHandleEvent(t *testing.T) {
	env := newImporterEnv(t)
	ctx := context.Background()
	path := env.write(t, "live.md", "written while watching")
	noteID := fileNoteID(path)

	env.importer.handleEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
	_, err := env.svc.GetNote(ctx, noteID, "u1")
	require.NoError(t, err)

	env.write(t, "live.md", "edited while watching")
	env.importer.handleEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Write})
	note, err := env.svc.GetNote(ctx, noteID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "edited while watching", note.Text)

	env.importer.handleEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Remove})
	_, err = env.svc.GetNote(ctx, noteID, "u1")
	assert.ErrorIs(t, err, ErrNoteNotFound)

	// Removing an unknown file is not an error.
	env.importer.handleEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Rename})

	csv := env.write(t, "table.csv", "a,b")
	env.importer.handleEvent(ctx, fsnotify.Event{Name: csv, Op: fsnotify.Create})
	assert.Equal(t, []string{"live.md", "live.md"}, env.extractions())
}

func TestWatchDirectory_StopsOnCancel(t *testing.T) {
	env := newImporterEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.importer.WatchDirectory(ctx, env.dir) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}

	assert.Error(t, env.importer.WatchDirectory(context.Background(), filepath.Join(env.dir, "missing")))
}

func TestFileNoteID(t *testing.T) {
	a := fileNoteID("/notes/a.md")
	assert.Equal(t, a, fileNoteID("/notes/a.md"))
	assert.NotEqual(t, a, fileNoteID("/notes/b.md"))
	assert.Len(t, a, len("file-")+32)
}

func TestIsSupportedFile(t *testing.T) {
	for path, want := range map[string]bool{
		"a.md": true, "b.TXT": true, "c.pdf": true, "d.csv": false, "noext": false,
	} {
		assert.Equal(t, want, isSupportedFile(path), path)
	}
}
