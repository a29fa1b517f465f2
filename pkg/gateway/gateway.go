// Package gateway answers questions through the protective layer in front of
// the query backend. Each call moves through a fixed sequence:
//
//	ephemeral cache -> durable cache -> rate limiter -> backend
//	  -> classify output -> recover (on failure) -> store in both caches
//
// Only outputs that carry no failure indicator are ever cached.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/querygate/pkg/cache/durable"
	"github.com/pario-ai/querygate/pkg/cache/memory"
	"github.com/pario-ai/querygate/pkg/classify"
	"github.com/pario-ai/querygate/pkg/metrics"
	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/ratelimit"
	"github.com/pario-ai/querygate/pkg/recovery"
)

var (
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("empty question")
	// ErrBackendUnavailable wraps failures of the backend call itself. The
	// Answer returned alongside it still carries an explanation.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Backend executes a question and returns its output. A returned error means
// the call itself failed; error descriptions embedded in a successful
// response are detected by classification.
type Backend interface {
	Execute(ctx context.Context, question string) (models.Response, error)
}

// Recorder stores one history entry per gateway call.
type Recorder interface {
	Log(ctx context.Context, entry models.QueryLogEntry) error
}

// Deps are the services a Gateway orchestrates. Durable, Recorder and
// Metrics may be nil.
type Deps struct {
	Backend    Backend
	Limiter    *ratelimit.Limiter
	Ephemeral  *memory.Cache[models.Response]
	Durable    *durable.Cache
	Classifier *classify.Classifier
	Advisor    *recovery.Advisor
	Recorder   Recorder
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Options tunes gateway behaviour.
type Options struct {
	// RequiredKey, when set, makes structured responses lacking that key
	// ineligible for caching.
	RequiredKey string
	// EphemeralTTL overrides the in-process cache TTL for answers. Zero keeps
	// the cache default.
	EphemeralTTL time.Duration
}

// Stats is a snapshot of every tier the gateway uses.
type Stats struct {
	Ephemeral models.EphemeralStats `json:"ephemeral"`
	Durable   *models.DurableStats  `json:"durable,omitempty"`
	RateLimit ratelimit.Stats       `json:"rate_limit"`
}

// Gateway is safe for concurrent use.
type Gateway struct {
	deps  Deps
	opts  Options
	log   *slog.Logger
	group singleflight.Group
}

// New builds a Gateway. Classifier and Advisor default to the built-in tables.
func New(deps Deps, opts Options) *Gateway {
	if deps.Classifier == nil {
		deps.Classifier = classify.New()
	}
	if deps.Advisor == nil {
		deps.Advisor = recovery.New(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Gateway{
		deps: deps,
		opts: opts,
		log:  deps.Logger.With("component", "gateway"),
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request ID used for history records.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID carried by ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func ephemeralKey(hash string) string {
	return "answer:" + hash
}

// Answer resolves question. Classified backend output is reported through
// the Answer's Outcome with a nil error. The error return carries blank
// questions, cancelled callers, rejected rate checks (a *ratelimit.WaitError
// alongside an OutcomeRateLimited answer) and failed backend calls (wrapping
// ErrBackendUnavailable, alongside an OutcomeError answer).
//
// Identical questions in flight at the same time share one backend call. The
// backend call and cache writes are not cancelled when ctx is; an abandoned
// caller returns ctx.Err() while the work completes.
func (g *Gateway) Answer(ctx context.Context, question string) (models.Answer, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return models.Answer{}, ErrEmptyQuestion
	}

	start := time.Now()
	hash := models.HashQuestion(q)

	ans, err := g.answer(ctx, q, hash)
	if err != nil && ans.Outcome == "" {
		return ans, err
	}

	g.deps.Metrics.ObserveAnswer(ans)
	g.record(ctx, q, hash, ans, time.Since(start))
	return ans, err
}

func (g *Gateway) answer(ctx context.Context, q, hash string) (models.Answer, error) {
	if resp, ok := g.deps.Ephemeral.Get(ephemeralKey(hash), 0); ok {
		g.log.Debug("ephemeral cache hit", "key", hash)
		return models.Answer{Question: q, Response: resp, Outcome: models.OutcomeHitEphemeral}, nil
	}

	if g.deps.Durable != nil {
		if resp, ok := g.deps.Durable.Get(ctx, hash); ok {
			g.log.Debug("durable cache hit", "key", hash)
			g.deps.Ephemeral.Set(ephemeralKey(hash), resp, g.opts.EphemeralTTL)
			return models.Answer{Question: q, Response: resp, Outcome: models.OutcomeHitDurable}, nil
		}
	}

	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan(hash, func() (any, error) {
		return g.execute(detached, q, hash)
	})

	select {
	case <-ctx.Done():
		g.log.Debug("caller left before the answer was ready", "key", hash)
		return models.Answer{Question: q}, ctx.Err()
	case r := <-ch:
		ans := r.Val.(models.Answer)
		ans.Question = q
		return ans, r.Err
	}
}

// execute runs the rate check, the backend call, classification and cache
// writes for one question.
func (g *Gateway) execute(ctx context.Context, q, hash string) (models.Answer, error) {
	if err := g.deps.Limiter.Check(); err != nil {
		var we *ratelimit.WaitError
		errors.As(err, &we)
		g.log.Info("rate limited", "wait", we.Wait)
		return models.Answer{
			Response: models.TextResponse(fmt.Sprintf(
				"Rate limit reached. Please wait %.1f seconds before asking again.", we.Wait.Seconds())),
			Outcome:  models.OutcomeRateLimited,
			WaitTime: we.Wait,
		}, err
	}

	t0 := time.Now()
	resp, err := g.deps.Backend.Execute(ctx, q)
	g.deps.Metrics.ObserveBackend(time.Since(t0), err)
	if err != nil {
		return g.backendFailure(q, err)
	}

	ans := models.Answer{Response: resp, Outcome: models.OutcomeMiss}
	if g.deps.Classifier.IsCritical(resp.Render()) {
		raw := resp.Render()
		m := g.deps.Classifier.Match(raw)
		ans.Outcome = models.OutcomeError
		ans.ErrorKind = m.Kind.String()
		if text, ok := g.deps.Advisor.Suggest(m.Kind, raw, q); ok {
			ans.Response = models.TextResponse(text)
			ans.Recovered = true
		}
		g.log.Info("backend reported an error", "kind", ans.ErrorKind, "token", m.Token, "recovered", ans.Recovered)
	}

	if g.cacheable(ans.Response) {
		g.store(ctx, q, hash, ans.Response)
	}
	return ans, nil
}

func (g *Gateway) backendFailure(q string, err error) (models.Answer, error) {
	raw := err.Error()
	kind := g.deps.Classifier.Classify(raw)
	text, ok := g.deps.Advisor.Suggest(kind, raw, q)
	if !ok {
		text = g.deps.Advisor.Explain(kind, raw)
	}
	g.log.Warn("backend call failed", "kind", kind.String(), "error", err)
	return models.Answer{
		Response:  models.TextResponse(text),
		Outcome:   models.OutcomeError,
		ErrorKind: kind.String(),
		Recovered: ok,
	}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

// cacheable reports whether resp may be written to either tier.
func (g *Gateway) cacheable(resp models.Response) bool {
	if resp.Empty() {
		return false
	}
	if g.deps.Classifier.IsCritical(resp.Render()) {
		return false
	}
	if data, ok := resp.Structured(); ok && g.opts.RequiredKey != "" {
		if _, ok := data[g.opts.RequiredKey]; !ok {
			return false
		}
	}
	return true
}

func (g *Gateway) store(ctx context.Context, q, hash string, resp models.Response) {
	g.deps.Ephemeral.Set(ephemeralKey(hash), resp, g.opts.EphemeralTTL)
	g.deps.Metrics.ObserveCacheWrite("ephemeral")
	if g.deps.Durable != nil && g.deps.Durable.Available() {
		g.deps.Durable.Set(ctx, hash, q, resp)
		g.deps.Metrics.ObserveCacheWrite("durable")
	}
}

func (g *Gateway) record(ctx context.Context, q, hash string, ans models.Answer, latency time.Duration) {
	if g.deps.Recorder == nil {
		return
	}
	id := RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	entry := models.QueryLogEntry{
		RequestID:    id,
		QuestionHash: hash,
		Question:     q,
		Outcome:      ans.Outcome,
		ErrorKind:    ans.ErrorKind,
		Recovered:    ans.Recovered,
		LatencyMs:    latency.Milliseconds(),
		CreatedAt:    time.Now(),
	}
	if err := g.deps.Recorder.Log(context.WithoutCancel(ctx), entry); err != nil {
		g.log.Warn("failed to record history", "error", err)
	}
}

// Invalidate drops in-process answers whose key contains pattern. An empty
// pattern clears the tier. The durable tier is not touched.
func (g *Gateway) Invalidate(pattern string) int {
	return g.deps.Ephemeral.Invalidate(pattern)
}

// InvalidateQuestion drops the in-process answer for question.
func (g *Gateway) InvalidateQuestion(question string) int {
	return g.deps.Ephemeral.Invalidate(ephemeralKey(models.HashQuestion(question)))
}

// Stats returns a snapshot of the cache tiers and the limiter.
func (g *Gateway) Stats(ctx context.Context) Stats {
	s := Stats{
		Ephemeral: g.deps.Ephemeral.Stats(),
		RateLimit: g.deps.Limiter.Stats(),
	}
	if g.deps.Durable != nil {
		ds := g.deps.Durable.Stats(ctx)
		s.Durable = &ds
	}
	return s
}
