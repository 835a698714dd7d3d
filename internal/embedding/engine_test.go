package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEngine_EmbedShapes(t *testing.T) {
	enc := &countingEncoder{Encoder: NewHashEncoder(64, 512)}
	e := newTestEngine(t, enc, EngineConfig{})
	texts := []string{"alpha", "beta gamma", "delta epsilon zeta"}

	for _, intent := range []Intent{IntentDocument, IntentQuery} {
		t.Run(string(intent), func(t *testing.T) {
			out, err := e.Embed(context.Background(), texts, intent, true)
			if err != nil {
				t.Fatal(err)
			}
			if len(out) != len(texts) {
				t.Fatalf("got %d vectors, want %d", len(out), len(texts))
			}
			for i, v := range out {
				if len(v) != e.Handle().Dimension() {
					t.Errorf("vector %d length = %d, want %d", i, len(v), e.Handle().Dimension())
				}
				if math.Abs(norm(v)-1) > 1e-5 {
					t.Errorf("vector %d norm = %f", i, norm(v))
				}
			}
		})
	}
}

func TestEngine_PreservesBatchOrder(t *testing.T) {
	e := newTestEngine(t, NewHashEncoder(64, 512), EngineConfig{})
	ctx := context.Background()
	texts := []string{"one", "two", "three"}
	batch, err := e.Embed(ctx, texts, IntentDocument, true)
	if err != nil {
		t.Fatal(err)
	}
	for i, text := range texts {
		single, err := e.Embed(ctx, []string{text}, IntentDocument, true)
		if err != nil {
			t.Fatal(err)
		}
		if c := cosine(single[0], batch[i]); c < 1-1e-5 {
			t.Errorf("batch[%d] does not match single %q (cosine %f)", i, text, c)
		}
	}
}

func TestEngine_EmptyInputSkipsModel(t *testing.T) {
	enc := &countingEncoder{Encoder: NewHashEncoder(8, 512)}
	e := newTestEngine(t, enc, EngineConfig{})
	for _, intent := range []Intent{IntentDocument, IntentQuery} {
		out, err := e.Embed(context.Background(), nil, intent, true)
		if err != nil {
			t.Fatal(err)
		}
		if out == nil || len(out) != 0 {
			t.Errorf("Embed(nil) = %v, want empty non-nil", out)
		}
	}
	if n := enc.calls.Load(); n != 0 {
		t.Errorf("encoder called %d times for empty input", n)
	}
}

func TestEngine_SingleItemIsCached(t *testing.T) {
	enc := &countingEncoder{Encoder: NewHashEncoder(32, 512)}
	e := newTestEngine(t, enc, EngineConfig{CacheCapacity: 4})
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"hello world"}, IntentQuery, true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Embed(ctx, []string{"hello world"}, IntentQuery, true)
	if err != nil {
		t.Fatal(err)
	}
	if !sameVector(first[0], second[0]) {
		t.Error("repeated single call should be bit-identical")
	}
	if n := enc.calls.Load(); n != 1 {
		t.Errorf("encoder calls = %d, want 1", n)
	}
	if s := e.Cache().Stats(); s.Hits != 1 || s.Misses != 1 {
		t.Errorf("cache stats = %+v", s)
	}
}

func TestEngine_QueryPrefix(t *testing.T) {
	enc := &countingEncoder{Encoder: NewHashEncoder(64, 512)}
	e := newTestEngine(t, enc, EngineConfig{})
	ctx := context.Background()

	doc, err := e.Embed(ctx, []string{"x"}, IntentDocument, true)
	if err != nil {
		t.Fatal(err)
	}
	if got := enc.lastInputs(); len(got) != 1 || got[0] != "x" {
		t.Errorf("document input = %q, want %q", got, "x")
	}

	query, err := e.Embed(ctx, []string{"x"}, IntentQuery, true)
	if err != nil {
		t.Fatal(err)
	}
	want := "Instruct: Given a search query, retrieve relevant passages that answer the query\nQuery: x"
	if got := enc.lastInputs(); len(got) != 1 || got[0] != want {
		t.Errorf("query input = %q, want %q", got, want)
	}
	if sameVector(doc[0], query[0]) {
		t.Error("query and document vectors should differ")
	}

	if _, err := e.Embed(ctx, []string{"a", "b"}, IntentQuery, true); err != nil {
		t.Fatal(err)
	}
	for _, in := range enc.lastInputs() {
		if !strings.HasPrefix(in, QueryInstruction) {
			t.Errorf("batch query input %q missing prefix", in)
		}
	}
}

func TestEngine_BatchBypassesCache(t *testing.T) {
	enc := &countingEncoder{Encoder: NewHashEncoder(16, 512)}
	e := newTestEngine(t, enc, EngineConfig{})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := e.Embed(ctx, []string{"a", "b"}, IntentDocument, true); err != nil {
			t.Fatal(err)
		}
	}
	if n := enc.calls.Load(); n != 2 {
		t.Errorf("encoder calls = %d, want 2", n)
	}
	if n := e.Cache().Len(); n != 0 {
		t.Errorf("cache holds %d entries after batch calls", n)
	}
	if got := enc.lastInputs(); len(got) != 2 {
		t.Errorf("batch should be one encode call with 2 inputs, got %v", got)
	}
}

func TestEngine_LRUEviction(t *testing.T) {
	enc := &countingEncoder{Encoder: NewHashEncoder(16, 512)}
	e := newTestEngine(t, enc, EngineConfig{CacheCapacity: 2})
	ctx := context.Background()
	embed := func(text string) {
		t.Helper()
		if _, err := e.Embed(ctx, []string{text}, IntentDocument, true); err != nil {
			t.Fatal(err)
		}
	}

	embed("a")
	embed("b")
	embed("c") // evicts a
	if n := e.Cache().Len(); n != 2 {
		t.Errorf("cache len = %d, want 2", n)
	}
	if n := enc.calls.Load(); n != 3 {
		t.Fatalf("encoder calls = %d, want 3", n)
	}
	embed("a")
	if n := enc.calls.Load(); n != 4 {
		t.Errorf("evicted entry should be recomputed, calls = %d", n)
	}
	embed("c")
	if n := enc.calls.Load(); n != 4 {
		t.Errorf("resident entry should be a hit, calls = %d", n)
	}
}

func TestEngine_CapitalOfFrance(t *testing.T) {
	e := newTestEngine(t, newVocabEncoder(128), EngineConfig{})
	ctx := context.Background()

	docs, err := e.Embed(ctx, []string{
		"Paris is the capital of France.",
		"Berlin is the capital of Germany.",
	}, IntentDocument, true)
	if err != nil {
		t.Fatal(err)
	}
	q, err := e.Embed(ctx, []string{"What is the capital of France?"}, IntentQuery, true)
	if err != nil {
		t.Fatal(err)
	}
	paris, berlin := cosine(q[0], docs[0]), cosine(q[0], docs[1])
	if paris <= berlin {
		t.Errorf("cosine(query, paris) = %f should exceed cosine(query, berlin) = %f", paris, berlin)
	}
	for i, v := range append(docs, q[0]) {
		if math.Abs(norm(v)-1) > 1e-5 {
			t.Errorf("vector %d norm = %f", i, norm(v))
		}
	}
}

func TestEngine_NotReadyBeforeStart(t *testing.T) {
	e := NewEngine(newTestHandle(t, NewHashEncoder(8, 512)), EngineConfig{})
	_, err := e.Embed(context.Background(), []string{"x"}, IntentDocument, true)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if KindOf(err) != KindNotReady {
		t.Errorf("KindOf = %v", KindOf(err))
	}
	if e.Ready() {
		t.Error("engine should not be ready before Start")
	}
	if e.Handle().Describe().EmbeddingDimension != DefaultDimension {
		t.Error("pre-load describe should report default dimension")
	}
}

func TestEngine_UnavailableAfterStop(t *testing.T) {
	e := NewEngine(newTestHandle(t, NewHashEncoder(8, 512)), EngineConfig{})
	ctx := context.Background()
	if err := e.Start(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if e.State() != StateStopped {
		t.Errorf("state = %s, want stopped", e.State())
	}
	_, err := e.Embed(ctx, []string{"x"}, IntentDocument, true)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if err := e.Start(ctx, ""); err == nil {
		t.Error("restart after stop should fail")
	}
}

func TestEngine_StartFailure(t *testing.T) {
	h, err := NewHandle(HandleConfig{Backend: "hash"}, WithOpener(func(context.Context, LoadOptions) (Encoder, error) {
		return nil, errors.New("artifact missing")
	}))
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(h, EngineConfig{})
	if err := e.Start(context.Background(), ""); err == nil {
		t.Fatal("expected load error")
	}
	if e.State() != StateStopped {
		t.Errorf("state = %s, want stopped", e.State())
	}
}

func TestEngine_EncodeFailure(t *testing.T) {
	boom := errors.New("kernel exploded")
	e := newTestEngine(t, &fixedEncoder{vec: []float32{1, 0}, err: boom}, EngineConfig{})
	ctx := context.Background()

	_, err := e.Embed(ctx, []string{"x"}, IntentDocument, true)
	if !errors.Is(err, ErrEncodeFailure) {
		t.Fatalf("err = %v, want ErrEncodeFailure", err)
	}
	if !errors.Is(err, boom) {
		t.Error("underlying error should be wrapped")
	}
	if e.Cache().Len() != 0 {
		t.Error("failures should not be cached")
	}
	if _, err := e.Embed(ctx, []string{"x", "y"}, IntentDocument, true); KindOf(err) != KindEncodeFailure {
		t.Errorf("batch err = %v", err)
	}
}

func TestEngine_ZeroVectorIsEncodeFailure(t *testing.T) {
	e := newTestEngine(t, &fixedEncoder{vec: []float32{0, 0, 0}}, EngineConfig{})
	_, err := e.Embed(context.Background(), []string{"x"}, IntentDocument, true)
	if KindOf(err) != KindEncodeFailure {
		t.Errorf("err = %v, want encode failure", err)
	}
}

func TestEngine_TruncateFlag(t *testing.T) {
	e := newTestEngine(t, NewHashEncoder(16, 3), EngineConfig{})
	ctx := context.Background()
	long := "one two three four five"

	if _, err := e.Embed(ctx, []string{long}, IntentDocument, true); err != nil {
		t.Errorf("truncate=true should accept long input: %v", err)
	}
	_, err := e.Embed(ctx, []string{long, "short"}, IntentDocument, false)
	if KindOf(err) != KindEncodeFailure {
		t.Errorf("truncate=false over-length err = %v, want encode failure", err)
	}
}

func TestEngine_InvalidIntent(t *testing.T) {
	e := newTestEngine(t, NewHashEncoder(8, 512), EngineConfig{})
	_, err := e.Embed(context.Background(), []string{"x"}, Intent("passage"), true)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

// blockingEncoder holds every Encode until release is closed.
type blockingEncoder struct {
	Encoder
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEncoder) Encode(ctx context.Context, texts []string, truncate bool) ([][]float32, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.Encoder.Encode(ctx, texts, truncate)
}

func TestEngine_StopDrainsInFlight(t *testing.T) {
	enc := &blockingEncoder{
		Encoder: NewHashEncoder(8, 512),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := NewEngine(newTestHandle(t, enc), EngineConfig{})
	ctx := context.Background()
	if err := e.Start(ctx, ""); err != nil {
		t.Fatal(err)
	}

	embedErr := make(chan error, 1)
	go func() {
		_, err := e.Embed(ctx, []string{"slow"}, IntentDocument, true)
		embedErr <- err
	}()
	<-enc.started

	stopErr := make(chan error, 1)
	go func() { stopErr <- e.Stop(ctx) }()

	deadline := time.After(2 * time.Second)
	for e.State() != StateShuttingDown {
		select {
		case <-deadline:
			t.Fatal("engine never entered shutting_down")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, err := e.Embed(ctx, []string{"new"}, IntentDocument, true); !errors.Is(err, ErrUnavailable) {
		t.Errorf("new call during shutdown err = %v, want ErrUnavailable", err)
	}

	close(enc.release)
	if err := <-embedErr; err != nil {
		t.Errorf("in-flight call should complete: %v", err)
	}
	if err := <-stopErr; err != nil {
		t.Errorf("Stop: %v", err)
	}
	if e.State() != StateStopped {
		t.Errorf("state = %s, want stopped", e.State())
	}
}

// memStore is an in-memory VectorStore.
type memStore struct {
	mu   sync.Mutex
	data map[string][]float32
	puts int
}

func (m *memStore) Get(_ context.Context, modelID, key string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[modelID+"/"+key]
	return v, ok, nil
}

func (m *memStore) Put(_ context.Context, modelID, key string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[modelID+"/"+key] = append([]float32(nil), vec...)
	m.puts++
	return nil
}

func TestEngine_VectorStore(t *testing.T) {
	store := &memStore{data: map[string][]float32{}}
	ctx := context.Background()

	first := &countingEncoder{Encoder: NewHashEncoder(16, 512)}
	e1 := newTestEngine(t, first, EngineConfig{Store: store})
	v1, err := e1.Embed(ctx, []string{"persist me"}, IntentQuery, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e1.Embed(ctx, []string{"a", "b"}, IntentQuery, true); err != nil {
		t.Fatal(err)
	}
	if store.puts != 1 {
		t.Errorf("store puts = %d, want 1 (batches bypass the store)", store.puts)
	}

	second := &countingEncoder{Encoder: NewHashEncoder(16, 512)}
	e2 := newTestEngine(t, second, EngineConfig{Store: store})
	v2, err := e2.Embed(ctx, []string{"persist me"}, IntentQuery, true)
	if err != nil {
		t.Fatal(err)
	}
	if second.calls.Load() != 0 {
		t.Error("second engine should be served from the store")
	}
	if !sameVector(v1[0], v2[0]) {
		t.Error("stored vector differs from original")
	}
}

func TestEngine_StopTimeoutReleasesModelLater(t *testing.T) {
	enc := &blockingEncoder{
		Encoder: NewHashEncoder(8, 512),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	h := newTestHandle(t, enc)
	e := NewEngine(h, EngineConfig{})
	ctx := context.Background()
	if err := e.Start(ctx, ""); err != nil {
		t.Fatal(err)
	}

	embedErr := make(chan error, 1)
	go func() {
		_, err := e.Embed(ctx, []string{"slow"}, IntentDocument, true)
		embedErr <- err
	}()
	<-enc.started

	stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := e.Stop(stopCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop err = %v, want deadline exceeded", err)
	}
	if e.State() != StateStopped {
		t.Errorf("state = %s, want stopped", e.State())
	}
	if !h.Loaded() {
		t.Fatal("model released while a call was still running")
	}

	close(enc.release)
	if err := <-embedErr; err != nil {
		t.Errorf("in-flight call should complete: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for h.Loaded() {
		select {
		case <-deadline:
			t.Fatal("model never released after the late drain")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEngine_VectorStoreScopedByArtifact(t *testing.T) {
	store := &memStore{data: map[string][]float32{}}
	ctx := context.Background()

	e1 := newTestEngine(t, NewHashEncoder(4, 512), EngineConfig{Store: store})
	if _, err := e1.Embed(ctx, []string{"same text"}, IntentDocument, true); err != nil {
		t.Fatal(err)
	}
	if err := e1.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	// Same model ID, different artifact.
	want := []float32{0, 0, 0, 1}
	e2 := newTestEngine(t, &fixedEncoder{vec: want}, EngineConfig{Store: store})
	got, err := e2.Embed(ctx, []string{"same text"}, IntentDocument, true)
	if err != nil {
		t.Fatal(err)
	}
	if !sameVector(got[0], want) {
		t.Errorf("got %v from the store, want fresh %v", got[0], want)
	}
	if store.puts != 2 {
		t.Errorf("store puts = %d, want 2", store.puts)
	}
}
