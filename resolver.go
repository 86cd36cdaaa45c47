package refconf

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"dario.cat/mergo"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Option configures a Resolver.
type Option func(*resolverConfig)

// resolverConfig fields are exported so mergo can fill unset ones from defaults.
type resolverConfig struct {
	Marker        string
	Fs            afero.Fs
	Sink          DiagnosticSink
	Strict        bool
	Evaluator     ModuleEvaluator
	FormatOptions []FormatOption
	Observer      func(path string)
}

// WithMarker sets the reference prefix. Default: DefaultMarker.
func WithMarker(marker string) Option {
	return func(c *resolverConfig) {
		c.Marker = marker
	}
}

// WithFs sets the filesystem references are read from. Default: the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(c *resolverConfig) {
		c.Fs = fs
	}
}

// WithDiagnostics sets the sink receiving diagnostics for recovered failures.
// Default: zerolog warnings on stderr.
func WithDiagnostics(sink DiagnosticSink) Option {
	return func(c *resolverConfig) {
		c.Sink = sink
	}
}

// WithLogger reports diagnostics through logger.
func WithLogger(logger zerolog.Logger) Option {
	return WithDiagnostics(LogSink(logger))
}

// WithStrict makes the first loading failure abort resolution instead of
// degrading to an empty mapping.
func WithStrict(strict bool) Option {
	return func(c *resolverConfig) {
		c.Strict = strict
	}
}

// WithModuleEvaluator sets the evaluator used for module references.
func WithModuleEvaluator(e ModuleEvaluator) Option {
	return func(c *resolverConfig) {
		c.Evaluator = e
	}
}

// WithFormatOptions passes options to the underlying FormatLoader.
func WithFormatOptions(opts ...FormatOption) Option {
	return func(c *resolverConfig) {
		c.FormatOptions = append(c.FormatOptions, opts...)
	}
}

// WithLoadObserver registers fn to be called with the absolute path of every
// file loaded successfully.
func WithLoadObserver(fn func(path string)) Option {
	return func(c *resolverConfig) {
		c.Observer = fn
	}
}

// Resolver replaces reference strings in a configuration tree with the
// content of the files they name, recursively. A Resolver keeps no state
// between calls and is safe for concurrent use if its sink and observer are.
type Resolver struct {
	marker   string
	fs       afero.Fs
	loader   *FormatLoader
	sink     DiagnosticSink
	strict   bool
	observer func(path string)
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	cfg := resolverConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	defaults := resolverConfig{
		Marker: DefaultMarker,
		Fs:     afero.NewOsFs(),
		Sink:   DefaultDiagnostics(),
	}
	if err := mergo.Merge(&cfg, defaults); err != nil {
		// Merge only fails for mismatched types, which cannot happen here.
		panic(fmt.Sprintf("refconf: apply resolver defaults: %v", err))
	}

	formatOpts := cfg.FormatOptions
	if cfg.Evaluator != nil {
		formatOpts = append(slices.Clone(formatOpts), WithEvaluator(cfg.Evaluator))
	}
	return &Resolver{
		marker:   cfg.Marker,
		fs:       cfg.Fs,
		loader:   NewFormatLoader(cfg.Fs, formatOpts...),
		sink:     cfg.Sink,
		strict:   cfg.Strict,
		observer: cfg.Observer,
	}
}

// Marker returns the reference prefix in use.
func (r *Resolver) Marker() string {
	return r.marker
}

// Resolve dereferences node as a root value relative to dir. A root string is
// always a file reference; the marker is added when missing.
func (r *Resolver) Resolve(ctx context.Context, node Value, dir string) (Value, error) {
	return r.resolve(ctx, node, NewPathContext(r.fs, dir), true, nil)
}

// ResolveNested dereferences node relative to dir without root coercion, so a
// plain root string stays a string.
func (r *Resolver) ResolveNested(ctx context.Context, node Value, dir string) (Value, error) {
	return r.resolve(ctx, node, NewPathContext(r.fs, dir), false, nil)
}

// ResolveFile loads and dereferences the file at path, relative to the
// working directory when path is relative.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (Value, error) {
	return r.Resolve(ctx, StringValue(path), ".")
}

// resolve walks node. chain holds the files currently being expanded on the
// path from the root and is never mutated in place.
func (r *Resolver) resolve(ctx context.Context, node Value, pc PathContext, root bool, chain []string) (Value, error) {
	if root {
		if s, ok := node.Str(); ok && !strings.HasPrefix(s, r.marker) {
			node = StringValue(r.marker + s)
		}
	}

	for {
		ref, ok := DetectReference(node, r.marker)
		if !ok {
			break
		}
		path, next := Rebase(r.fs, pc, ref)
		if slices.Contains(chain, path) {
			return Value{}, &ReferenceCycleError{Chain: append(slices.Clone(chain), path)}
		}

		loaded, err := r.loader.Load(ctx, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Value{}, ctxErr
			}
			if r.strict {
				return Value{}, err
			}
			r.sink.Report(Diagnostic{
				Code:      diagnosticCode(err),
				Path:      path,
				Reference: ref,
				Err:       err,
			})
			return EmptyMapping(), nil
		}
		if r.observer != nil {
			r.observer(path)
		}

		chain = append(slices.Clip(chain), path)
		node, pc = loaded, next
	}

	switch node.kind {
	case KindMapping:
		m := newMappingBuilder(len(node.keys))
		for _, k := range node.keys {
			child, err := r.resolve(ctx, node.fields[k], pc, false, chain)
			if err != nil {
				return Value{}, err
			}
			m.set(k, child)
		}
		return m.value(), nil
	case KindSequence:
		items := make([]Value, len(node.items))
		for i, item := range node.items {
			child, err := r.resolve(ctx, item, pc, false, chain)
			if err != nil {
				return Value{}, err
			}
			items[i] = child
		}
		return Value{kind: KindSequence, items: items}, nil
	}
	return node, nil
}
