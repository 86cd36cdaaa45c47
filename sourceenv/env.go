package sourceenv

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"sort"
	"strings"

	"github.com/Azhovan/refconf"
	"github.com/Azhovan/refconf/internal/normalize"
	"github.com/joho/godotenv"
)

// Options configures environment variable source behavior.
type Options struct {
	// Prefix filters vars starting with prefix (stripped before normalization).
	// Empty = load all vars.
	// Prefix matching behavior is controlled by CaseSensitive.
	Prefix string

	// CaseSensitive controls prefix matching (default: false).
	// When false, prefix matching is case-insensitive (APP_ matches app_, App_, etc.).
	// When true, prefix must match exactly.
	// Keys are always normalized to lowercase after prefix stripping.
	CaseSensitive bool

	// Files lists dotenv files read before the process environment. Later
	// files override earlier ones and the process environment overrides them
	// all. Missing files are skipped. The process environment is never modified.
	Files []string
}

type envSource struct {
	opts    Options
	environ func() []string
}

// New creates an environment variable source.
func New(opts Options) refconf.Source {
	return &envSource{opts: opts, environ: os.Environ}
}

// Load collects variables, filters by prefix, and nests keys on "__".
// Values are strings; a value starting with the reference marker is left
// for the Loader to resolve.
func (e *envSource) Load(ctx context.Context) (refconf.Value, error) {
	vars := make(map[string]string)

	for _, file := range e.opts.Files {
		fileVars, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				continue
			}
			return refconf.Value{}, fmt.Errorf("read env file %s: %w", file, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}

	for _, env := range e.environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		vars[key] = value
	}

	result := make(map[string]string)
	for key, value := range vars {
		if e.opts.Prefix != "" {
			var hasPrefix bool
			if e.opts.CaseSensitive {
				hasPrefix = strings.HasPrefix(key, e.opts.Prefix)
			} else {
				hasPrefix = strings.HasPrefix(strings.ToUpper(key), strings.ToUpper(e.opts.Prefix))
			}

			if !hasPrefix {
				continue
			}
			key = key[len(e.opts.Prefix):]
		}

		if key == "" {
			continue
		}

		// Normalize: FOO__BAR → foo.bar
		result[normalize.ToLowerDotPath(key)] = value
	}

	return nest(result), nil
}

// nest turns dot paths into nested mappings. Keys are applied in sorted
// order, so "a" is overwritten by "a.b" when both are set.
func nest(flat map[string]string) refconf.Value {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fragments := make([]refconf.Value, 0, len(keys))
	for _, k := range keys {
		segments := normalize.SplitPath(k)
		if len(segments) == 0 {
			continue
		}
		v := refconf.StringValue(flat[k])
		for i := len(segments) - 1; i >= 0; i-- {
			v = refconf.MappingOf(refconf.Entry{Key: segments[i], Value: v})
		}
		fragments = append(fragments, v)
	}
	return refconf.MergeRecursive(fragments...)
}

// Watch returns ErrWatchNotSupported (env vars don't change at runtime).
func (e *envSource) Watch(ctx context.Context) (<-chan refconf.ChangeEvent, error) {
	return nil, refconf.ErrWatchNotSupported
}

// Name returns a human-readable identifier for this source.
func (e *envSource) Name() string {
	if e.opts.Prefix == "" {
		return "env"
	}
	return "env:" + e.opts.Prefix
}
