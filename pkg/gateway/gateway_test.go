package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pario-ai/querygate/pkg/cache/durable"
	"github.com/pario-ai/querygate/pkg/cache/memory"
	"github.com/pario-ai/querygate/pkg/classify"
	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/ratelimit"
)

type fakeBackend struct {
	calls   atomic.Int64
	resp    models.Response
	err     error
	entered chan struct{}
	release chan struct{}
}

func (b *fakeBackend) Execute(ctx context.Context, _ string) (models.Response, error) {
	b.calls.Add(1)
	if b.entered != nil {
		select {
		case b.entered <- struct{}{}:
		default:
		}
	}
	if b.release != nil {
		<-b.release
	}
	return b.resp, b.err
}

// memStore is a minimal durable.Store.
type memStore struct {
	mu   sync.Mutex
	rows map[string]models.Response
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]models.Response)} }

func (s *memStore) Get(ctx context.Context, key string) (models.Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Response{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[key]
	return r, ok, nil
}

func (s *memStore) Set(ctx context.Context, key, _ string, resp models.Response, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = resp
	return nil
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[key]
	return ok
}

func (s *memStore) SweepExpired(context.Context) (int64, error) { return 0, nil }
func (s *memStore) Clear(context.Context) (int64, error)        { return 0, nil }
func (s *memStore) Ping(context.Context) error                   { return nil }
func (s *memStore) Close() error                                 { return nil }
func (s *memStore) Stats(context.Context) (models.DurableStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.rows))
	return models.DurableStats{Total: n, Active: n}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []models.QueryLogEntry
}

func (r *fakeRecorder) Log(_ context.Context, e models.QueryLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type harness struct {
	gw        *Gateway
	backend   *fakeBackend
	store     *memStore
	durable   *durable.Cache
	ephemeral *memory.Cache[models.Response]
	recorder  *fakeRecorder
}

func newHarness(t *testing.T, backend *fakeBackend, limits ratelimit.Limits, opts Options) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()
	dc := durable.New(store, durable.Options{TTL: time.Hour, Logger: logger})
	t.Cleanup(func() { _ = dc.Close() })

	h := &harness{
		backend:   backend,
		store:     store,
		durable:   dc,
		ephemeral: memory.New[models.Response](memory.DefaultOptions()),
		recorder:  &fakeRecorder{},
	}
	h.gw = New(Deps{
		Backend:   backend,
		Limiter:   ratelimit.New(limits),
		Ephemeral: h.ephemeral,
		Durable:   dc,
		Recorder:  h.recorder,
		Logger:    logger,
	}, opts)
	return h
}

func (h *harness) cached(question string) (ephemeral, durable bool) {
	hash := models.HashQuestion(question)
	_, ephemeral = h.ephemeral.Get(ephemeralKey(hash), 0)
	return ephemeral, h.store.has(hash)
}

var roomy = ratelimit.Limits{PerSecond: 100, PerMinute: 1000}

func TestMissThenHit(t *testing.T) {
	b := &fakeBackend{resp: models.TextResponse("There are 42 customers.")}
	h := newHarness(t, b, roomy, Options{})
	ctx := context.Background()

	ans, err := h.gw.Answer(ctx, "Quantos clientes temos?")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Outcome != models.OutcomeMiss {
		t.Fatalf("expected miss, got %s", ans.Outcome)
	}

	ans, err = h.gw.Answer(ctx, "  quantos   CLIENTES temos? ")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Outcome != models.OutcomeHitEphemeral {
		t.Errorf("expected ephemeral hit for a normalized duplicate, got %s", ans.Outcome)
	}
	if text, _ := ans.Response.Text(); text != "There are 42 customers." {
		t.Errorf("unexpected response %q", text)
	}
	if b.calls.Load() != 1 {
		t.Errorf("expected 1 backend call, got %d", b.calls.Load())
	}
	if e, d := h.cached("quantos clientes temos?"); !e || !d {
		t.Errorf("expected both tiers populated, ephemeral=%v durable=%v", e, d)
	}
}

func TestDurableHitWarmsEphemeral(t *testing.T) {
	b := &fakeBackend{resp: models.TextResponse("unused")}
	h := newHarness(t, b, roomy, Options{})
	ctx := context.Background()

	q := "faturamento de 2024"
	_ = h.store.Set(ctx, models.HashQuestion(q), q, models.TextResponse("R$ 1.000.000"), time.Hour)

	ans, _ := h.gw.Answer(ctx, q)
	if ans.Outcome != models.OutcomeHitDurable {
		t.Fatalf("expected durable hit, got %s", ans.Outcome)
	}
	ans, _ = h.gw.Answer(ctx, q)
	if ans.Outcome != models.OutcomeHitEphemeral {
		t.Errorf("expected ephemeral hit after warm-up, got %s", ans.Outcome)
	}
	if b.calls.Load() != 0 {
		t.Errorf("backend should not be called, got %d calls", b.calls.Load())
	}
}

func TestCriticalOutputIsNeverCached(t *testing.T) {
	b := &fakeBackend{resp: models.TextResponse(`ERROR: syntax error at or near "FORM"`)}
	h := newHarness(t, b, roomy, Options{})
	ctx := context.Background()
	q := "lista de produtos"

	ans, err := h.gw.Answer(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if ans.Outcome != models.OutcomeError || ans.ErrorKind != "syntax_error" || ans.Recovered {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if e, d := h.cached(q); e || d {
		t.Errorf("critical output was cached, ephemeral=%v durable=%v", e, d)
	}

	h.gw.Answer(ctx, q)
	if b.calls.Load() != 2 {
		t.Errorf("expected the backend to be asked again, got %d calls", b.calls.Load())
	}
}

func TestRecoveredOutputReplacesError(t *testing.T) {
	b := &fakeBackend{resp: models.TextResponse(`Error: column "enti_tpo" does not exist`)}
	h := newHarness(t, b, roomy, Options{})
	q := "clientes por tipo"

	ans, err := h.gw.Answer(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if !ans.Recovered || ans.ErrorKind != classify.ColumnNotExist.String() {
		t.Fatalf("expected recovered column error, got %+v", ans)
	}
	text, _ := ans.Response.Text()
	if !strings.Contains(text, "enti_tipo_enti") {
		t.Errorf("expected suggestion for enti_tipo_enti:\n%s", text)
	}
	if strings.Contains(text, "does not exist") {
		t.Error("recovery text should replace the raw error")
	}

	// The recovery text carries no failure indicator, so it is cached.
	if e, d := h.cached(q); !e || !d {
		t.Errorf("expected recovery text cached, ephemeral=%v durable=%v", e, d)
	}
}

func TestRateLimited(t *testing.T) {
	b := &fakeBackend{resp: models.TextResponse("ok")}
	h := newHarness(t, b, ratelimit.Limits{PerSecond: 1}, Options{})
	ctx := context.Background()

	if ans, _ := h.gw.Answer(ctx, "first"); ans.Outcome != models.OutcomeMiss {
		t.Fatalf("expected miss, got %s", ans.Outcome)
	}
	ans, err := h.gw.Answer(ctx, "second")
	if !errors.Is(err, ratelimit.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var we *ratelimit.WaitError
	if !errors.As(err, &we) || we.Wait != ans.WaitTime {
		t.Errorf("wait error should carry the answer's wait time, got %v", err)
	}
	if ans.Outcome != models.OutcomeRateLimited {
		t.Fatalf("expected rate_limited, got %s", ans.Outcome)
	}
	if ans.WaitTime <= 0 || ans.WaitTime > time.Second {
		t.Errorf("unexpected wait time %v", ans.WaitTime)
	}
	if text, _ := ans.Response.Text(); !strings.Contains(text, "wait") {
		t.Errorf("rate limit message should mention the wait: %q", text)
	}
	if b.calls.Load() != 1 {
		t.Errorf("backend must not be called when rate limited, got %d calls", b.calls.Load())
	}
	if e, d := h.cached("second"); e || d {
		t.Error("rate limit message must not be cached")
	}
}

func TestBackendFailure(t *testing.T) {
	b := &fakeBackend{err: errors.New(`pq: relation "cliente" does not exist`)}
	h := newHarness(t, b, roomy, Options{})
	q := "clientes ativos"

	ans, err := h.gw.Answer(context.Background(), q)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if ans.Outcome != models.OutcomeError || ans.ErrorKind != "table_not_exist" {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if text, _ := ans.Response.Text(); !strings.Contains(text, "entidades") {
		t.Errorf("expected table listing in answer:\n%s", text)
	}
	if e, d := h.cached(q); e || d {
		t.Error("failed calls must not be cached")
	}
}

func TestBackendFailureWithoutRecovery(t *testing.T) {
	b := &fakeBackend{err: errors.New("connection refused")}
	h := newHarness(t, b, roomy, Options{})

	ans, err := h.gw.Answer(context.Background(), "vendas")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	text, _ := ans.Response.Text()
	if !strings.Contains(text, "Unknown Error") || !strings.Contains(text, "connection refused") {
		t.Errorf("expected generic explanation:\n%s", text)
	}
}

func TestEmptyQuestion(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, roomy, Options{})
	if _, err := h.gw.Answer(context.Background(), "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestRequiredKey(t *testing.T) {
	b := &fakeBackend{resp: models.StructuredResponse(map[string]any{"resumo": "sem dados"})}
	h := newHarness(t, b, roomy, Options{RequiredKey: "dados"})
	q := "estoque"

	ans, err := h.gw.Answer(context.Background(), q)
	if err != nil || ans.Outcome != models.OutcomeMiss {
		t.Fatalf("unexpected result: %+v %v", ans, err)
	}
	if e, d := h.cached(q); e || d {
		t.Error("structured response without the required key must not be cached")
	}

	b.resp = models.StructuredResponse(map[string]any{"dados": []any{1, 2}})
	h.gw.Answer(context.Background(), q)
	if e, d := h.cached(q); !e || !d {
		t.Error("structured response with the required key should be cached")
	}
}

func TestEmptyOutputNotCached(t *testing.T) {
	b := &fakeBackend{resp: models.TextResponse("  ")}
	h := newHarness(t, b, roomy, Options{})
	h.gw.Answer(context.Background(), "nada")
	if e, d := h.cached("nada"); e || d {
		t.Error("empty output must not be cached")
	}
}

func TestConcurrentIdenticalQuestionsShareOneCall(t *testing.T) {
	b := &fakeBackend{
		resp:    models.TextResponse("ok"),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := newHarness(t, b, roomy, Options{})

	var wg sync.WaitGroup
	results := make([]models.Answer, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = h.gw.Answer(context.Background(), "mesma pergunta")
		}(i)
	}

	<-b.entered
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	wg.Wait()

	if b.calls.Load() != 1 {
		t.Errorf("expected a single backend call, got %d", b.calls.Load())
	}
	for i, r := range results {
		if text, _ := r.Response.Text(); text != "ok" {
			t.Errorf("caller %d got %q", i, text)
		}
	}
}

func TestCancelledCallerDoesNotAbortWork(t *testing.T) {
	b := &fakeBackend{
		resp:    models.TextResponse("slow answer"),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := newHarness(t, b, roomy, Options{})
	q := "pergunta lenta"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.gw.Answer(ctx, q)
		done <- err
	}()

	<-b.entered
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(b.release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if e, d := h.cached(q); e && d {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("answer was not cached after the caller left")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCancelledCallerLeavesDurableTierEnabled(t *testing.T) {
	h := newHarness(t, &fakeBackend{resp: models.TextResponse("ok")}, roomy, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.gw.Answer(ctx, "primeira pergunta")

	if !h.durable.Available() {
		t.Fatal("a cancelled caller must not disable the durable tier")
	}

	ans, err := h.gw.Answer(context.Background(), "segunda pergunta")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Outcome != models.OutcomeMiss {
		t.Fatalf("expected miss, got %s", ans.Outcome)
	}
	if _, d := h.cached("segunda pergunta"); !d {
		t.Error("healthy answer after a cancelled caller was not persisted")
	}
	if st := h.durable.Stats(context.Background()); st.Degraded != 0 {
		t.Errorf("expected no degradation, got %+v", st)
	}
}

func TestHistoryRecorded(t *testing.T) {
	h := newHarness(t, &fakeBackend{resp: models.TextResponse("ok")}, roomy, Options{})
	ctx := WithRequestID(context.Background(), "req-42")

	h.gw.Answer(ctx, "quantos pedidos?")
	h.gw.Answer(context.Background(), "quantos pedidos?")

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	if len(h.recorder.entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(h.recorder.entries))
	}
	first, second := h.recorder.entries[0], h.recorder.entries[1]
	if first.RequestID != "req-42" || first.Outcome != models.OutcomeMiss {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if second.RequestID == "" || second.Outcome != models.OutcomeHitEphemeral {
		t.Errorf("unexpected second entry: %+v", second)
	}
	if first.QuestionHash != models.HashQuestion("quantos pedidos?") {
		t.Error("history should carry the question hash")
	}
}

func TestStatsAndInvalidate(t *testing.T) {
	h := newHarness(t, &fakeBackend{resp: models.TextResponse("ok")}, roomy, Options{})
	ctx := context.Background()

	h.gw.Answer(ctx, "a")
	h.gw.Answer(ctx, "b")

	s := h.gw.Stats(ctx)
	if s.Ephemeral.Entries != 2 || s.Durable == nil || s.Durable.Total != 2 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if s.RateLimit.Admitted != 2 {
		t.Errorf("expected 2 admitted calls, got %d", s.RateLimit.Admitted)
	}

	if n := h.gw.InvalidateQuestion("A"); n != 1 {
		t.Errorf("expected 1 entry invalidated, got %d", n)
	}
	if n := h.gw.Invalidate(""); n != 1 {
		t.Errorf("expected 1 entry cleared, got %d", n)
	}
}
