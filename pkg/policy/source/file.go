package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mercator-hq/covenant/pkg/policy"
)

// DefaultDebounce is the quiet period a file must see before it is reported.
const DefaultDebounce = 100 * time.Millisecond

// FileConfig configures a FileSource.
type FileConfig struct {
	// Dir is the policy directory. Subdirectories are watched too.
	Dir string

	// Extensions limits which files are policies. Default: .yaml, .yml, .json.
	Extensions []string

	// IncludeHidden reports dot files and descends into dot directories.
	IncludeHidden bool

	// Debounce is how long a file must stay untouched after its last event
	// before it is reported. Editors write files in several steps.
	// Default: 100ms.
	Debounce time.Duration
}

// FileSource reports policy files from a directory. The first FetchChanges
// returns every file; later calls return only files written since, once
// they have been quiet for the debounce period.
//
// The policy ID is the path relative to Dir without its extension, using
// forward slashes ("finance/budget" for finance/budget.yaml).
type FileSource struct {
	dir        string
	extensions map[string]bool
	hidden     bool
	debounce   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	scanned bool
	dirty   map[string]time.Time

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFileSource creates a source for cfg.Dir. Call Start to watch for changes.
func NewFileSource(cfg FileConfig, logger *slog.Logger) (*FileSource, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("policy directory cannot be empty")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access policy directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policy path %s is not a directory", cfg.Dir)
	}
	if cfg.Debounce < 0 {
		return nil, fmt.Errorf("debounce cannot be negative")
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".yaml", ".yml", ".json"}
	}
	extSet := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[ext] = true
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FileSource{
		dir:        filepath.Clean(cfg.Dir),
		extensions: extSet,
		hidden:     cfg.IncludeHidden,
		debounce:   cfg.Debounce,
		logger:     logger.With("component", "source.file", "dir", cfg.Dir),
		now:        time.Now,
		dirty:      make(map[string]time.Time),
	}, nil
}

// Start begins watching the directory tree. It is a no-op if already started.
func (s *FileSource) Start(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := s.addTree(watcher, s.dir); err != nil {
		watcher.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.watch(ctx, watcher, s.done)

	s.logger.Info("watching policy directory")
	return nil
}

// Close stops watching. FetchChanges keeps working on already-seen events.
func (s *FileSource) Close() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher == nil {
		return nil
	}
	s.cancel()
	err := s.watcher.Close()
	<-s.done
	s.watcher = nil
	return err
}

// addTree watches root and every directory below it.
func (s *FileSource) addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && s.skipName(info.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (s *FileSource) watch(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("file watcher error", "error", err)
		}
	}
}

func (s *FileSource) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if s.skipName(info.Name()) {
				return
			}
			if err := s.addTree(watcher, event.Name); err != nil {
				s.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			// Files written before the watch was added are picked up here.
			s.markTree(event.Name)
			return
		}
	}
	if !s.isPolicyFile(event.Name) {
		return
	}
	s.mu.Lock()
	s.dirty[event.Name] = s.now()
	s.mu.Unlock()
}

func (s *FileSource) markTree(root string) {
	files, err := s.listFiles(root)
	if err != nil {
		return
	}
	now := s.now()
	s.mu.Lock()
	for _, f := range files {
		s.dirty[f] = now
	}
	s.mu.Unlock()
}

// FetchChanges returns every policy file on the first call, then the files
// that changed and have been quiet for the debounce period. A file that
// cannot be read is skipped until it changes again; the readable ones are
// still returned alongside the joined read errors.
func (s *FileSource) FetchChanges(ctx context.Context) ([]policy.PolicyChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var paths []string
	s.mu.Lock()
	if !s.scanned {
		s.mu.Unlock()
		all, err := s.listFiles(s.dir)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.scanned = true
		// The full scan supersedes anything seen before it.
		for _, p := range all {
			delete(s.dirty, p)
		}
		paths = all
	} else {
		now := s.now()
		for p, last := range s.dirty {
			if now.Sub(last) >= s.debounce {
				paths = append(paths, p)
				delete(s.dirty, p)
			}
		}
	}
	s.mu.Unlock()
	sort.Strings(paths)

	var errs []error
	changes := make([]policy.PolicyChange, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				s.logger.Debug("policy file removed before read", "path", p)
				continue
			}
			s.logger.Warn("skipping unreadable policy file", "path", p, "error", err)
			errs = append(errs, fmt.Errorf("failed to read %s: %w", p, err))
			continue
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to resolve %s: %w", p, err))
			continue
		}
		rel = filepath.ToSlash(rel)
		ext := filepath.Ext(rel)
		changes = append(changes, policy.PolicyChange{
			PolicyID: strings.TrimSuffix(rel, ext),
			RawText:  string(data),
			Source:   "file:" + rel,
			Metadata: map[string]any{
				"path":   rel,
				"format": formatFor(ext),
			},
		})
	}
	return changes, errors.Join(errs...)
}

func (s *FileSource) listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && s.skipName(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.isPolicyFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list policy files: %w", err)
	}
	return files, nil
}

func (s *FileSource) isPolicyFile(path string) bool {
	if s.skipName(filepath.Base(path)) {
		return false
	}
	return s.extensions[strings.ToLower(filepath.Ext(path))]
}

func (s *FileSource) skipName(name string) bool {
	return !s.hidden && strings.HasPrefix(name, ".")
}

func (s *FileSource) String() string { return "file:" + s.dir }

func formatFor(ext string) string {
	if strings.EqualFold(ext, ".json") {
		return "json"
	}
	return "yaml"
}
