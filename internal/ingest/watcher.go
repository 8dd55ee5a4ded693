package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultSettle is how long a file must stay unchanged before upload.
// Copies into the drop folder emit a burst of write events.
const defaultSettle = 2 * time.Second

// Watcher uploads PDF and YAML files dropped into a directory.
type Watcher struct {
	ingester   *Ingester
	dir        string
	extensions []string
	settle     time.Duration
	out        io.Writer

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// WatcherOpts holds parameters for creating a Watcher.
type WatcherOpts struct {
	Ingester   *Ingester
	Dir        string
	Extensions []string      // defaults to .pdf, .yaml, .yml
	Settle     time.Duration // defaults to 2s
	Out        io.Writer     // defaults to os.Stdout
}

// NewWatcher creates a Watcher.
func NewWatcher(opts WatcherOpts) (*Watcher, error) {
	if opts.Ingester == nil {
		return nil, fmt.Errorf("ingest: watcher: ingester is required")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("ingest: watcher: directory is required")
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".pdf", ".yaml", ".yml"}
	}
	for i, e := range exts {
		exts[i] = strings.ToLower(e)
	}
	settle := opts.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Watcher{
		ingester:   opts.Ingester,
		dir:        opts.Dir,
		extensions: exts,
		settle:     settle,
		out:        out,
		pending:    make(map[string]*time.Timer),
	}, nil
}

// Run ingests files already in the directory, then watches for new or
// rewritten ones until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: watcher: %w", err)
	}
	defer fsw.Close()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("ingest: watcher: create %s: %w", w.dir, err)
	}
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("ingest: watch %s: %w", w.dir, err)
	}
	fmt.Fprintf(w.out, "Watching %s for %s\n", w.dir, strings.Join(w.extensions, ", "))

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("ingest: watcher: scan %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			w.wg.Wait()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				w.wg.Wait()
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				w.wg.Wait()
				return nil
			}
			log.Printf("ingest: watcher: %v", err)
		}
	}
}

// watched reports whether path has one of the watched extensions.
func (w *Watcher) watched(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// schedule (re)starts the settle timer for path. The upload runs once the
// file has been quiet for the settle period.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !w.watched(path) || KindOf(path) == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.settle)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.upload(ctx, path)
	})
	w.pending[path] = t
}

// stopPending cancels timers that have not fired yet.
func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

func (w *Watcher) upload(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	rec, skipped, err := w.ingester.IngestFile(ctx, path, FileOpts{})
	if err != nil {
		log.Printf("ingest: watcher: %v", err)
		return
	}
	if skipped {
		fmt.Fprintf(w.out, "Skipped %s (already ingested as %s)\n", filepath.Base(path), nonEmpty(rec.SourceDocumentID, rec.Kind))
		return
	}
	fmt.Fprintf(w.out, "Ingested %s: %s\n", filepath.Base(path), rec.Message)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
