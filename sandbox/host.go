package sandbox

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/pybox/internal/metrics"
	"github.com/caffeineduck/pybox/internal/wasmbin"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// Host runs guest code in fresh, isolated module instances. The runtime and
// the compiled module are shared by all calls; everything else belongs to a
// single call. A Host is safe for concurrent use.
type Host struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled wazero.CompiledModule
	guest    Guest
	cfg      hostConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	closed   atomic.Bool
}

// New loads and compiles the guest module and prepares the engine.
// All failures are *Error values of KindInit.
func New(guest Guest, opts ...Option) (*Host, error) {
	cfg := defaultHostConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if guest == nil {
		return nil, initErrorf(nil, "guest adapter required")
	}

	wasm := cfg.module
	if wasm == nil {
		data, err := os.ReadFile(cfg.artifact)
		if err != nil {
			return nil, initErrorf(err, "load guest artifact %q", cfg.artifact)
		}
		wasm = data
	}

	mod, err := wasmbin.Decode(wasm)
	if err != nil {
		return nil, initErrorf(err, "parse guest module")
	}
	if err := cfg.limiter.boundTables(mod); err != nil {
		return nil, initErrorf(err, "guest module exceeds resource caps")
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	if cfg.diskCache {
		dir := cfg.cacheDir
		if dir == "" {
			dir = defaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return nil, initErrorf(err, "create compilation cache")
		}
	}

	// Interruption has to be enabled here; it cannot be switched on later.
	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	h := &Host{
		runtime: rt,
		cache:   cache,
		guest:   guest,
		cfg:     cfg,
		logger:  cfg.logger.With(zap.String("guest", guest.Name())),
		metrics: cfg.metrics,
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		h.Close(ctx)
		return nil, initErrorf(err, "instantiate WASI")
	}

	start := time.Now()
	compiled, err := rt.CompileModule(ctx, mod.Bytes())
	if err != nil {
		h.Close(ctx)
		return nil, initErrorf(err, "compile guest module")
	}
	h.compiled = compiled

	h.logger.Info("sandbox ready",
		zap.Duration("compile", time.Since(start)),
		zap.Duration("timeout", cfg.timeout),
		zap.Uint64("memory_cap", cfg.limiter.MemoryCap),
		zap.Uint32("table_cap", cfg.limiter.TableCap),
	)

	return h, nil
}

// Execute runs code through the guest's exec capability and returns the
// JSON-encoded value of its trailing expression ("null" when there is none).
func (h *Host) Execute(ctx context.Context, code string) (string, error) {
	return h.run(ctx, Exec, code)
}

// Evaluate runs code through the guest's eval capability and returns the
// JSON-encoded value of the expression.
func (h *Host) Evaluate(ctx context.Context, code string) (string, error) {
	return h.run(ctx, Eval, code)
}

// Run invokes the given capability. Unknown capabilities are passed to the
// guest as-is.
func (h *Host) Run(ctx context.Context, c Capability, code string) (string, error) {
	return h.run(ctx, c, code)
}

func (h *Host) run(ctx context.Context, c Capability, code string) (string, error) {
	if h.closed.Load() {
		return "", hostTrap(errors.New("sandbox closed"))
	}

	start := time.Now()
	h.metrics.SessionStarted()
	defer h.metrics.SessionFinished()

	s := newSession(h, c, code)
	value, err := s.run(ctx)

	h.metrics.ObserveExecution(string(c), outcome(err), time.Since(start))
	return value, err
}

// Timeout returns the per-call wall-clock budget.
func (h *Host) Timeout() time.Duration {
	return h.cfg.timeout
}

// Close releases the runtime and the compilation cache.
func (h *Host) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := h.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if h.cache != nil {
		if err := h.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return KindOf(err).String()
}
