package refconf

import (
	"context"
	"errors"
	"time"
)

// Source provides a configuration fragment (files, env vars, remote stores).
type Source interface {
	// Load returns the fragment. Missing optional sources should return an empty mapping.
	Load(ctx context.Context) (Value, error)

	// Watch emits ChangeEvent when the fragment changes. Returns ErrWatchNotSupported if not supported.
	Watch(ctx context.Context) (<-chan ChangeEvent, error)

	// Name identifies the source in errors (e.g., "file:config.yaml").
	Name() string
}

// ResolvedSource is implemented by sources that resolve references
// themselves. The Loader does not resolve their fragments again.
type ResolvedSource interface {
	Source
	Resolved() bool
}

// ChangeEvent notifies of configuration changes.
type ChangeEvent struct {
	At    time.Time
	Cause string // Description (e.g., "file-changed:/etc/app/db.yml")
}

// ErrWatchNotSupported is returned when watching is not supported.
var ErrWatchNotSupported = errors.New("refconf: watch not supported by this source")

// Snapshot is a configuration version emitted by Loader.Watch.
type Snapshot struct {
	Config   Value
	Version  int64 // Increments on reload (starts at 1)
	LoadedAt time.Time
	Source   string // What triggered the load
}

// SourceFunc adapts a function to a Source that does not support watching.
type SourceFunc struct {
	ID string
	Fn func(ctx context.Context) (Value, error)
}

func (s SourceFunc) Load(ctx context.Context) (Value, error) {
	return s.Fn(ctx)
}

func (s SourceFunc) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	return nil, ErrWatchNotSupported
}

func (s SourceFunc) Name() string {
	return s.ID
}

// Static returns a Source that always yields v, useful for defaults and overrides.
func Static(name string, v Value) Source {
	return SourceFunc{ID: name, Fn: func(context.Context) (Value, error) { return v, nil }}
}
