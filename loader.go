package refconf

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"
)

// debounceDelay coalesces bursts of change events into one reload.
const debounceDelay = 100 * time.Millisecond

// Loader resolves the references in each source's fragment and merges the
// fragments. Sources are processed in order (later override earlier).
type Loader struct {
	sources  []Source
	resolver *Resolver
	dir      string
}

// NewLoader creates a Loader with no sources, a default Resolver and the
// working directory as base for references.
func NewLoader() *Loader {
	return &Loader{
		sources:  make([]Source, 0),
		resolver: NewResolver(),
		dir:      ".",
	}
}

// WithSource adds a source. Sources are processed in order (later override earlier).
func (l *Loader) WithSource(src Source) *Loader {
	l.sources = append(l.sources, src)
	return l
}

// WithResolver replaces the Resolver applied to the merged fragments.
func (l *Loader) WithResolver(r *Resolver) *Loader {
	l.resolver = r
	return l
}

// WithBaseDir sets the directory references in unresolved fragments are relative to.
func (l *Loader) WithBaseDir(dir string) *Loader {
	l.dir = dir
	return l
}

// Load loads every source, resolves the references in fragments whose source
// has not resolved them itself, and merges the fragments recursively. When
// sources fail, all their errors are returned joined.
func (l *Loader) Load(ctx context.Context) (Value, error) {
	fragments := make([]Value, 0, len(l.sources))
	var errs []error
	for _, source := range l.sources {
		v, err := l.loadSource(ctx, source)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fragments = append(fragments, v)
	}
	if len(errs) > 0 {
		return Value{}, errors.Join(errs...)
	}
	return MergeRecursive(fragments...), nil
}

func (l *Loader) loadSource(ctx context.Context, source Source) (Value, error) {
	v, err := source.Load(ctx)
	if err != nil {
		return Value{}, fmt.Errorf("load source %s: %w", source.Name(), err)
	}
	if rs, ok := source.(ResolvedSource); ok && rs.Resolved() {
		return v, nil
	}
	resolved, err := l.resolver.ResolveNested(ctx, v, l.dir)
	if err != nil {
		return Value{}, fmt.Errorf("resolve references from %s: %w", source.Name(), err)
	}
	return resolved, nil
}

// Watch monitors sources for changes and reloads the configuration.
// Returns: snapshots channel, errors channel, initial load error.
// Changes are debounced (100ms). Both channels close when ctx is done or
// every watching source has stopped.
func (l *Loader) Watch(ctx context.Context) (<-chan Snapshot, <-chan error, error) {
	initial, err := l.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initial load failed: %w", err)
	}

	snapshotCh := make(chan Snapshot)
	errorCh := make(chan error)

	go l.watchLoop(ctx, initial, snapshotCh, errorCh)

	return snapshotCh, errorCh, nil
}

func (l *Loader) watchLoop(ctx context.Context, initial Value, snapshotCh chan<- Snapshot, errorCh chan<- error) {
	defer close(snapshotCh)
	defer close(errorCh)

	version := int64(1)
	select {
	case snapshotCh <- Snapshot{Config: initial, Version: version, LoadedAt: time.Now(), Source: "initial"}:
	case <-ctx.Done():
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	changeChannels := make([]<-chan ChangeEvent, 0, len(l.sources))
	for _, source := range l.sources {
		changeCh, err := source.Watch(watchCtx)
		if err != nil {
			if errors.Is(err, ErrWatchNotSupported) {
				continue
			}
			select {
			case errorCh <- fmt.Errorf("watch source %s: %w", source.Name(), err):
			case <-ctx.Done():
				return
			}
			continue
		}
		changeChannels = append(changeChannels, changeCh)
	}

	if len(changeChannels) == 0 {
		return
	}

	changes := fanIn(watchCtx, changeChannels)

	var (
		debounce <-chan time.Time
		timer    *time.Timer
		cause    string
	)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-changes:
			if !ok {
				return
			}
			cause = event.Cause
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounceDelay)
			debounce = timer.C

		case <-debounce:
			debounce = nil
			cfg, err := l.Load(ctx)
			if err != nil {
				select {
				case errorCh <- fmt.Errorf("reload failed: %w", err):
				case <-ctx.Done():
					return
				}
				continue
			}
			version++
			select {
			case snapshotCh <- Snapshot{Config: cfg, Version: version, LoadedAt: time.Now(), Source: cause}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// fanIn forwards events from all channels into one. The returned channel
// closes when ctx is done or every input has closed.
func fanIn(ctx context.Context, channels []<-chan ChangeEvent) <-chan ChangeEvent {
	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		cases := make([]reflect.SelectCase, 0, len(channels)+1)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
		for _, ch := range channels {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
		}

		for len(cases) > 1 {
			chosen, value, ok := reflect.Select(cases)
			if chosen == 0 {
				return
			}
			if !ok {
				cases = append(cases[:chosen], cases[chosen+1:]...)
				continue
			}
			event, ok := value.Interface().(ChangeEvent)
			if !ok {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
