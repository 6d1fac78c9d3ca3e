package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/loader"
)

// Config configures a Runtime.
type Config struct {
	// Schema declares the host classes the bridge exposes.
	Schema host.Schema

	// Factory materializes host objects during push.
	Factory host.Factory

	// Registrar, when set, receives one Register call per exported guest
	// function after each successful load or reload.
	Registrar host.Registrar

	// MemoryLimitPages caps guest memory in 64KB pages. 0 means the
	// wazero default.
	MemoryLimitPages uint32

	// Registerer receives the bridge metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer

	// ReclaimInterval, when positive, starts a background loop that
	// frees retired generations as their calls drain.
	ReclaimInterval time.Duration

	// Logger replaces the default no-op logger.
	Logger *zap.Logger
}

// Runtime is the top-level bridge object. Safe for concurrent use; calls,
// loads and reloads may interleave freely.
type Runtime struct {
	loader    *loader.Loader
	registrar host.Registrar

	mu      sync.RWMutex
	current *loader.Module
	path    string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Runtime and its underlying loader.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.Logger != nil {
		loader.SetLogger(cfg.Logger)
	}

	r := &Runtime{
		registrar: cfg.Registrar,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	ld, err := loader.New(ctx, loader.Options{
		Schema:           cfg.Schema,
		Factory:          cfg.Factory,
		HostModule:       r.hostImports(),
		MemoryLimitPages: cfg.MemoryLimitPages,
		Registerer:       cfg.Registerer,
	})
	if err != nil {
		return nil, err
	}
	r.loader = ld

	if cfg.ReclaimInterval > 0 {
		go r.reclaimLoop(cfg.ReclaimInterval)
	} else {
		close(r.done)
	}
	return r, nil
}

func (r *Runtime) reclaimLoop(interval time.Duration) {
	defer close(r.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			if _, err := r.loader.Reclaim(context.Background()); err != nil {
				loader.Logger().Warn("reclaim failed", zap.Error(err))
			}
		}
	}
}

// Loader returns the underlying loader.
func (r *Runtime) Loader() *loader.Loader { return r.loader }

// Handles returns the shared proxy handle table.
func (r *Runtime) Handles() *host.Table { return r.loader.Handles() }

// Current returns the active generation, nil when nothing is loaded.
func (r *Runtime) Current() *loader.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// LoadModule loads an artifact and makes it the active generation. The
// previous generation, if any, is retired; its in-flight calls complete
// against the old code.
func (r *Runtime) LoadModule(ctx context.Context, artifact string) error {
	m, err := r.loader.Load(ctx, artifact)
	if err != nil {
		return err
	}
	return r.Activate(m)
}

// Reload loads the active artifact path again and swaps the result in.
func (r *Runtime) Reload(ctx context.Context) error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return errors.NotFound(errors.PhaseLoad, "module", "(none loaded)")
	}
	return r.LoadModule(ctx, path)
}

// Activate swaps a loaded generation in as current. Exposed so embedders
// using Assemble can drive the same lifecycle as wasm-backed modules.
func (r *Runtime) Activate(m *loader.Module) error {
	if r.registrar != nil {
		for _, fn := range m.Functions() {
			name := fn.ExternalName
			entry := func(ctx context.Context, args ...host.Value) (host.Value, error) {
				return r.Call(ctx, name, args...)
			}
			if err := r.registrar.Register(name, entry); err != nil {
				r.loader.Retire(m)
				return errors.Wrap(errors.PhaseLoad, errors.KindLoadFailed, err,
					"register entrypoint "+name)
			}
		}
	}

	r.mu.Lock()
	old := r.current
	r.current = m
	r.path = m.Path()
	r.mu.Unlock()

	if old != nil {
		r.loader.Retire(old)
	}
	return nil
}

// Unload retires the active generation without a replacement. Calls
// already inside it finish; new calls fail until the next load.
func (r *Runtime) Unload() {
	r.mu.Lock()
	old := r.current
	r.current = nil
	r.mu.Unlock()

	if old != nil {
		r.loader.Retire(old)
	}
}

// Reclaim frees retired generations whose calls have drained.
func (r *Runtime) Reclaim(ctx context.Context) (int, error) {
	return r.loader.Reclaim(ctx)
}

// Close stops the reclaim loop and shuts the loader down.
func (r *Runtime) Close(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	return r.loader.Close(ctx)
}
