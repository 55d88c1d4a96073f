// Package filemon watches a workspace root for file changes and
// publishes CategoryFile events onto the bus: debounced per path,
// context-tagged by path/extension rules, with directories reported
// separately from files. Backed by fsnotify and restarted with backoff
// via pkg/monitor.Supervisor on watcher loss.
package filemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/cache"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
	"github.com/sumatoshi-tech/devpulse/pkg/monitor"
)

// DefaultDebounce is the coalescing window applied to rapid successive
// events on the same path.
const DefaultDebounce = 300 * time.Millisecond

// DefaultIgnoreGlobs are skipped regardless of caller-supplied globs:
// dependency directories, VCS metadata, build output, and OS artifacts
// that produce noisy, low-signal filesystem churn.
var DefaultIgnoreGlobs = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/.devpulse/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/*.log",
	"**/.DS_Store",
	"**/__pycache__/**",
}

// Publisher is the narrow slice of pkg/bus.Bus the monitor needs,
// avoiding a hard dependency on the bus package's full surface.
type Publisher interface {
	Publish(ctx context.Context, e *event.Event, opts bus.PublishOptions) (bus.PublishResult, error)
}

// Options configures a Monitor.
type Options struct {
	RootPath     string
	IgnoreGlobs  []string
	Debounce     time.Duration
	IdentityLRU  int
	Logger       *slog.Logger
}

// Monitor watches RootPath and publishes file:* events to a Publisher.
type Monitor struct {
	opts      Options
	publisher Publisher
	sup       *monitor.Supervisor
	identity  *cache.IdentityCache

	mu       sync.Mutex
	timers   map[string]*time.Timer
	pending  map[string]event.FileAction
}

// New constructs a file Monitor. notifier may be nil, in which case
// restart/fatal notifications are only logged.
func New(opts Options, publisher Publisher, notifier monitor.Notifier) *Monitor {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Monitor{
		opts:      opts,
		publisher: publisher,
		identity:  cache.NewIdentityCache(opts.IdentityLRU),
		timers:    make(map[string]*time.Timer),
		pending:   make(map[string]event.FileAction),
	}
	m.sup = monitor.NewSupervisor("filemon", notifier, opts.Logger)

	return m
}

// Run blocks, supervising the watch loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	return m.sup.Run(ctx, m.watch)
}

func (m *Monitor) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filemon: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := m.addRecursive(watcher, m.opts.RootPath); err != nil {
		return fmt.Errorf("%w: %s", monitor.ErrFatal, err.Error())
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("filemon: watcher closed")
			}
			m.handleFSEvent(ctx, watcher, ev)

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("filemon: watcher error channel closed")
			}
			return fmt.Errorf("filemon: watcher error: %w", err)
		}
	}
}

func (m *Monitor) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if isIgnored(path, m.opts.IgnoreGlobs) {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

func (m *Monitor) handleFSEvent(ctx context.Context, watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if isIgnored(ev.Name, m.opts.IgnoreGlobs) {
		return
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if isDir && ev.Has(fsnotify.Create) {
		_ = watcher.Add(ev.Name)
	}

	action, ok := classify(ev)
	if !ok {
		return
	}

	m.debounce(ctx, ev.Name, action, isDir)
}

func classify(ev fsnotify.Event) (event.FileAction, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return event.FileActionAdd, true
	case ev.Has(fsnotify.Write):
		return event.FileActionModify, true
	case ev.Has(fsnotify.Remove):
		return event.FileActionDelete, true
	case ev.Has(fsnotify.Rename):
		return event.FileActionRename, true
	default:
		return "", false
	}
}

// debounce coalesces successive events on the same path within the
// configured window into a single emitted modify, per spec.md §4.D. A
// lone event in the window keeps its own action.
func (m *Monitor) debounce(ctx context.Context, path string, action event.FileAction, isDir bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, has := m.pending[path]; has {
		action = event.FileActionModify
	}
	m.pending[path] = action

	if t, has := m.timers[path]; has {
		t.Stop()
	}

	m.timers[path] = time.AfterFunc(m.opts.Debounce, func() {
		m.mu.Lock()
		finalAction := m.pending[path]
		delete(m.pending, path)
		delete(m.timers, path)
		m.mu.Unlock()

		m.emit(ctx, path, finalAction, isDir)
	})
}

func (m *Monitor) emit(ctx context.Context, path string, action event.FileAction, isDir bool) {
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	if action == event.FileActionDelete {
		m.identity.Delete(path)
	} else if !isDir {
		m.identity.Put(path, cache.Identity{Size: size, ModTime: time.Now()})
	}

	payload := &event.FilePayload{
		Action:      action,
		NewPath:     path,
		Extension:   filepath.Ext(path),
		Size:        size,
		IsDirectory: isDir,
		ContextTag:  tagFor(path),
	}

	e := event.New("file:"+string(action), event.CategoryFile, event.SeverityInfo, "filemon", payload)
	if _, err := m.publisher.Publish(ctx, e, bus.PublishOptions{UseQueue: true}); err != nil {
		m.opts.Logger.Warn("filemon: publish failed", slog.String("error", err.Error()))
	}
}

// tagFor applies the path/extension rules of spec.md §4.D: tests →
// test; config filenames → config; docs directories → docs; build
// outputs → build; else source.
func tagFor(path string) event.ContextTag {
	lower := strings.ToLower(path)
	base := filepath.Base(lower)
	ext := filepath.Ext(base)

	switch {
	case strings.Contains(lower, "_test.") || strings.Contains(lower, "/test/") ||
		strings.Contains(lower, "/tests/") || strings.HasPrefix(base, "test_"):
		return event.ContextTagTest
	case isConfigFile(base):
		return event.ContextTagConfig
	case strings.Contains(lower, "/docs/") || strings.Contains(lower, "/doc/") || ext == ".md":
		return event.ContextTagDocs
	case strings.Contains(lower, "/dist/") || strings.Contains(lower, "/build/") || strings.Contains(lower, "/target/"):
		return event.ContextTagBuild
	default:
		return event.ContextTagSource
	}
}

func isConfigFile(base string) bool {
	switch base {
	case "go.mod", "go.sum", "package.json", "tsconfig.json", ".env",
		"dockerfile", "makefile", "config.yaml", "config.yml", "config.json":
		return true
	}
	ext := filepath.Ext(base)
	return ext == ".yaml" || ext == ".yml" || ext == ".toml" || ext == ".ini"
}

func isIgnored(path string, extra []string) bool {
	for _, glob := range append(append([]string{}, DefaultIgnoreGlobs...), extra...) {
		if matchGlob(glob, path) {
			return true
		}
	}
	return false
}

// matchGlob supports the "**/" prefix/suffix convention used by
// DefaultIgnoreGlobs — a lightweight substring/suffix match rather than
// a full glob engine, since ignore rules only ever anchor on a
// directory or extension fragment.
func matchGlob(glob, path string) bool {
	path = filepath.ToSlash(path)
	fragment := strings.TrimSuffix(strings.TrimPrefix(glob, "**/"), "/**")

	switch {
	case strings.HasPrefix(glob, "**/") && strings.HasSuffix(glob, "/**"):
		return strings.Contains(path, "/"+fragment+"/") || strings.Contains(path, fragment+"/")
	case strings.HasPrefix(glob, "**/") && strings.HasPrefix(fragment, "*."):
		return strings.HasSuffix(path, strings.TrimPrefix(fragment, "*"))
	case strings.HasPrefix(glob, "**/"):
		return strings.HasSuffix(path, "/"+fragment) || path == fragment
	default:
		matched, _ := filepath.Match(glob, filepath.Base(path))
		return matched
	}
}
