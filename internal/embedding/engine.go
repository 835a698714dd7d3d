package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hyperjump/embedserver/internal/observe"
)

// State is the engine lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// VectorStore is an optional persistent layer behind the single-item cache. Keys are
// content hashes of the instructed text and the artifact fingerprint, scoped by model ID.
type VectorStore interface {
	Get(ctx context.Context, modelID, key string) ([]float32, bool, error)
	Put(ctx context.Context, modelID, key string, vec []float32) error
}

// EngineConfig tunes an Engine.
type EngineConfig struct {
	// CacheCapacity bounds the single-item result cache. Zero uses DefaultCacheCapacity.
	CacheCapacity int
	// Workers bounds concurrent encode calls. Zero means one per CPU.
	Workers int
	// Store, when set, is consulted on single-item cache misses.
	Store VectorStore
}

// Engine dispatches embed calls: a single text goes through the result cache, a batch goes
// to the model in one call. Only a Ready engine accepts calls.
type Engine struct {
	handle  *Handle
	cache   *ResultCache
	store   VectorStore
	sem     *semaphore.Weighted
	logger  *zap.Logger
	metrics *observe.Metrics

	mu       sync.RWMutex
	state    State
	inflight sync.WaitGroup
}

// NewEngine returns an uninitialized engine around handle.
func NewEngine(handle *Handle, cfg EngineConfig, opts ...Option) *Engine {
	o := buildOptions(opts)
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	e := &Engine{
		handle:  handle,
		cache:   NewResultCache(cfg.CacheCapacity),
		store:   cfg.Store,
		sem:     semaphore.NewWeighted(int64(workers)),
		logger:  o.logger,
		metrics: o.metrics,
	}
	if err := e.metrics.ObserveCache(e.cacheSnapshot); err != nil {
		e.logger.Warn("failed to register cache metrics", zap.Error(err))
	}
	return e
}

func (e *Engine) cacheSnapshot() observe.CacheSnapshot {
	s := e.cache.Stats()
	return observe.CacheSnapshot{
		Entries:   int64(e.cache.Len()),
		Capacity:  int64(e.cache.Capacity()),
		Evictions: int64(s.Evictions),
	}
}

// Handle returns the model handle.
func (e *Engine) Handle() *Handle { return e.handle }

// Cache returns the single-item result cache.
func (e *Engine) Cache() *ResultCache { return e.cache }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Ready reports whether Embed is accepted.
func (e *Engine) Ready() bool { return e.State() == StateReady }

// Start loads the model. It is valid once, from StateUninitialized. A load failure moves
// the engine to StateStopped and is returned unchanged.
func (e *Engine) Start(ctx context.Context, modelID string) error {
	e.mu.Lock()
	if e.state != StateUninitialized {
		st := e.state
		e.mu.Unlock()
		return fmt.Errorf("engine start: already %s", st)
	}
	e.state = StateLoading
	e.mu.Unlock()

	err := e.handle.Load(ctx, modelID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = StateStopped
		return err
	}
	if e.state != StateLoading {
		_ = e.handle.Close()
		e.state = StateStopped
		return newError(KindUnavailable, "start", errors.New("stopped while loading"))
	}
	e.state = StateReady
	e.logger.Info("engine ready", zap.String("model", e.handle.ModelID()))
	return nil
}

// Stop rejects new calls, waits for in-flight ones (bounded by ctx) and releases the model.
// When ctx ends first the model is released once the last in-flight call returns.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateUninitialized, StateStopped:
		e.state = StateStopped
		e.mu.Unlock()
		return e.handle.Close()
	case StateLoading, StateShuttingDown:
		e.state = StateShuttingDown
		e.mu.Unlock()
		return nil
	}
	e.state = StateShuttingDown
	e.mu.Unlock()
	e.logger.Info("engine shutting down, draining in-flight requests")

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.setState(StateStopped)
		go func() {
			<-done
			if err := e.handle.Close(); err != nil {
				e.logger.Warn("failed to release model after late drain", zap.Error(err))
			}
		}()
		return fmt.Errorf("engine stop: requests still in flight: %w", ctx.Err())
	}

	err := e.handle.Close()
	e.setState(StateStopped)
	e.logger.Info("engine stopped")
	return err
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// enter registers an in-flight call if the engine is Ready.
func (e *Engine) enter() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.state {
	case StateReady:
		e.inflight.Add(1)
		return nil
	case StateUninitialized, StateLoading:
		return newError(KindNotReady, "embed", nil)
	default:
		return newError(KindUnavailable, "embed", nil)
	}
}

// Embed returns one unit vector per text, in order. An empty input returns an empty result
// without touching the model.
func (e *Engine) Embed(ctx context.Context, texts []string, intent Intent, truncate bool) ([][]float32, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.inflight.Done()

	if !intent.Valid() {
		return nil, newError(KindInvalidInput, "embed", fmt.Errorf("unknown intent %q", intent))
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var (
		out  [][]float32
		err  error
		path string
	)
	if len(texts) == 1 {
		path = "single"
		var vec []float32
		if vec, err = e.embedOne(ctx, texts[0], intent, truncate); err == nil {
			out = [][]float32{vec}
		}
	} else {
		path = "batch"
		out, err = e.embedBatch(ctx, texts, intent, truncate)
	}

	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	e.metrics.RecordEmbed(ctx, string(intent), path, outcome)
	return out, err
}

func (e *Engine) embedOne(ctx context.Context, text string, intent Intent, truncate bool) ([]float32, error) {
	vec, hit, err := e.cache.GetOrCompute(ctx, text, intent, func(ctx context.Context) ([]float32, error) {
		return e.computeOne(ctx, text, intent, truncate)
	})
	e.metrics.RecordCacheLookup(ctx, hit)
	return vec, err
}

func (e *Engine) computeOne(ctx context.Context, text string, intent Intent, truncate bool) ([]float32, error) {
	input := PrefixFor(intent) + text
	modelID := e.handle.ModelID()

	var key string
	if e.store != nil {
		key = contentKey(e.handle.Fingerprint(), input)
		v, ok, err := e.store.Get(ctx, modelID, key)
		switch {
		case err != nil:
			e.logger.Warn("vector store lookup failed", zap.Error(err))
		case ok && len(v) == e.handle.Dimension():
			return v, nil
		}
	}

	out, err := e.encode(ctx, []string{input}, truncate, "single")
	if err != nil {
		return nil, err
	}
	if e.store != nil {
		if err := e.store.Put(ctx, modelID, key, out[0]); err != nil {
			e.logger.Warn("vector store write failed", zap.Error(err))
		}
	}
	return out[0], nil
}

func (e *Engine) embedBatch(ctx context.Context, texts []string, intent Intent, truncate bool) ([][]float32, error) {
	prefix := PrefixFor(intent)
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = prefix + t
	}
	return e.encode(ctx, inputs, truncate, "batch")
}

func (e *Engine) encode(ctx context.Context, inputs []string, truncate bool, path string) ([][]float32, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for encode slot: %w", err)
	}
	defer e.sem.Release(1)

	start := time.Now()
	out, err := e.handle.Encode(ctx, inputs, truncate)
	e.metrics.EncodeDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("path", path)))
	e.metrics.BatchSize.Record(ctx, int64(len(inputs)))
	if err != nil {
		observe.Logger(ctx, e.logger).Debug("encode failed",
			zap.String("path", path), zap.Int("inputs", len(inputs)), zap.Error(err))
	}
	return out, err
}

// contentKey hashes the exact text sent to the model together with the artifact
// fingerprint, so vectors from a different export or setting never match.
func contentKey(fingerprint, input string) string {
	sum := sha256.Sum256([]byte(fingerprint + "\x00" + input))
	return hex.EncodeToString(sum[:])
}
