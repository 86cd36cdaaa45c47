package sourcefile

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/Azhovan/refconf"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// Options configures file source behavior.
type Options struct {
	// Required: if true, a missing file causes an error. Default: false (returns empty mapping).
	Required bool

	// Marker overrides the reference prefix. Default: refconf.DefaultMarker.
	Marker string

	// Fs is the filesystem to read from. Default: the OS filesystem.
	// Watch is only supported on the OS filesystem.
	Fs afero.Fs

	// Diagnostics receives recovered loading failures. Default: zerolog on stderr.
	Diagnostics refconf.DiagnosticSink

	// Strict turns recovered loading failures of referenced files into errors.
	Strict bool

	// ExtendedFormats enables .toml and .jsonc decoding.
	ExtendedFormats bool

	// Evaluator handles module references.
	Evaluator refconf.ModuleEvaluator
}

type fileSource struct {
	path string
	opts Options
	fs   afero.Fs
	sink refconf.DiagnosticSink

	mu       sync.Mutex
	loaded   []string      // Files read by the last successful Load
	failed   []string      // References the last successful Load could not read
	reloaded chan struct{} // Signals a running Watch to refresh its file set
}

// New creates a file-based configuration source.
func New(path string, opts Options) refconf.Source {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sink := opts.Diagnostics
	if sink == nil {
		sink = refconf.DefaultDiagnostics()
	}
	return &fileSource{
		path:     path,
		opts:     opts,
		fs:       fs,
		sink:     sink,
		reloaded: make(chan struct{}, 1),
	}
}

// Load reads the file and resolves all references it contains.
func (f *fileSource) Load(ctx context.Context) (refconf.Value, error) {
	if _, err := f.fs.Stat(f.path); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			if f.opts.Required {
				return refconf.Value{}, fmt.Errorf("required config file not found: %s: %w", f.path, err)
			}
			return refconf.EmptyMapping(), nil
		}
		return refconf.Value{}, fmt.Errorf("stat config file %s: %w", f.path, err)
	}

	var loaded, failed []string
	observe := func(path string) {
		loaded = append(loaded, path)
	}
	sink := refconf.DiagnosticFunc(func(d refconf.Diagnostic) {
		failed = append(failed, d.Path)
		f.sink.Report(d)
	})
	resolver := refconf.NewResolver(f.resolverOptions(observe, sink)...)

	v, err := resolver.ResolveFile(ctx, f.path)
	if err != nil {
		return refconf.Value{}, fmt.Errorf("resolve config file %s: %w", f.path, err)
	}

	f.mu.Lock()
	f.loaded = loaded
	f.failed = failed
	f.mu.Unlock()

	select {
	case f.reloaded <- struct{}{}:
	default:
	}
	return v, nil
}

// Resolved reports that Load returns fragments with every reference already
// resolved, so the Loader must not resolve them again.
func (f *fileSource) Resolved() bool { return true }

func (f *fileSource) resolverOptions(observe func(string), sink refconf.DiagnosticSink) []refconf.Option {
	opts := []refconf.Option{
		refconf.WithFs(f.fs),
		refconf.WithStrict(f.opts.Strict),
		refconf.WithLoadObserver(observe),
		refconf.WithDiagnostics(sink),
	}
	if f.opts.Marker != "" {
		opts = append(opts, refconf.WithMarker(f.opts.Marker))
	}
	if f.opts.ExtendedFormats {
		opts = append(opts, refconf.WithFormatOptions(refconf.WithExtendedFormats()))
	}
	if f.opts.Evaluator != nil {
		opts = append(opts, refconf.WithModuleEvaluator(f.opts.Evaluator))
	}
	return opts
}

// Files returns the files read by the last successful Load.
func (f *fileSource) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loaded...)
}

// watchedFiles returns the root file plus every file the last successful
// Load read or failed to read.
func (f *fileSource) watchedFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	files := make([]string, 0, 1+len(f.loaded)+len(f.failed))
	files = append(files, f.path)
	files = append(files, f.loaded...)
	return append(files, f.failed...)
}

// Watch emits a ChangeEvent whenever the file, one of the files it
// referenced during the last Load, or a referenced file that could not be
// read is written, created, renamed or removed. Parent directories are
// watched so editors that replace files are noticed. The watched set follows
// every later successful Load; only one Watch per source keeps it current.
func (f *fileSource) Watch(ctx context.Context) (<-chan refconf.ChangeEvent, error) {
	if _, ok := f.fs.(*afero.OsFs); !ok {
		return nil, refconf.ErrWatchNotSupported
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &fileWatcher{watcher: watcher, dirs: make(map[string]bool)}
	if err := w.track(f.watchedFiles()); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	out := make(chan refconf.ChangeEvent)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.reloaded:
				// Directories that cannot be watched yet are retried on the next reload.
				_ = w.track(f.watchedFiles())
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !w.files[filepath.Clean(event.Name)] {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}
				select {
				case out <- refconf.ChangeEvent{At: time.Now(), Cause: "file-changed:" + event.Name}:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

// fileWatcher is owned by a single Watch goroutine.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	files   map[string]bool
	dirs    map[string]bool
}

// track replaces the set of reported files and watches any new parent
// directory. Directories that do not exist are skipped.
func (w *fileWatcher) track(files []string) error {
	next := make(map[string]bool, len(files))
	for _, file := range files {
		next[filepath.Clean(file)] = true
		dir := filepath.Dir(file)
		if w.dirs[dir] {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.dirs[dir] = true
	}
	w.files = next
	return nil
}

// Name returns a human-readable identifier for this source.
func (f *fileSource) Name() string {
	return "file:" + filepath.Base(f.path)
}
