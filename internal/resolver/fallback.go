// Package resolver drives the multi-source fallback chain and merges
// conflicting results into one nutrition record with an honest confidence.
package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nutriflow/nutrition-core/internal/model"
	"github.com/nutriflow/nutrition-core/internal/ratelimit"
	"github.com/nutriflow/nutrition-core/internal/resilience"
	"github.com/nutriflow/nutrition-core/internal/source"
)

// ErrDataUnavailable is surfaced when every configured source failed. The
// caller falls back to manual entry; this is a user-visible miss, not a
// system fault.
var ErrDataUnavailable = eris.New("nutrition data unavailable")

// errShortCircuit signals a qualifying fan-out success to the errgroup.
var errShortCircuit = eris.New("short circuit")

// AuditSink persists one resolution record per Resolve call.
type AuditSink interface {
	AppendResolution(ctx context.Context, rec model.ResolutionRecord) error
}

// Result is the outcome of a successful resolution.
type Result struct {
	Data       *model.NutritionData
	Confidence float64
	Record     model.ResolutionRecord
}

// Fallback tries sources in priority order, short-circuiting once a result
// meets the confidence threshold, and merging sub-threshold results when the
// chain is exhausted.
type Fallback struct {
	cfg      *Config
	clients  []source.Client
	limiter  *ratelimit.Limiter
	conflict *Conflict
	audit    AuditSink
	breakers *resilience.BreakerSet
	retry    resilience.RetryConfig
}

// NewFallback creates a fallback resolver. Clients are attempted in the
// given order; the limiter and audit sink are shared across calls. Each
// source gets its own circuit breaker so a flapping provider cannot slow
// the whole chain.
func NewFallback(cfg *Config, clients []source.Client, limiter *ratelimit.Limiter, audit AuditSink) *Fallback {
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ShouldTrip = resilience.IsTransient
	return &Fallback{
		cfg:      cfg,
		clients:  clients,
		limiter:  limiter,
		conflict: NewConflict(cfg),
		audit:    audit,
		breakers: resilience.NewBreakerSet(breakerCfg),
		retry:    resilience.DefaultRetryConfig(),
	}
}

// attempt is the audited outcome of one source call.
type attempt struct {
	client source.Client
	data   *model.NutritionData
	attr   model.Attribution
	err    error
}

// Resolve runs the chain for one food reference. Recoverable source errors
// never abort the chain; only full exhaustion with zero successes yields
// ErrDataUnavailable. Exactly one audit record is written per call.
func (f *Fallback) Resolve(ctx context.Context, userID string, ref model.FoodRef) (*Result, error) {
	start := time.Now()

	var attempts []attempt
	var winner *attempt

	if f.cfg.FanOut > 1 {
		attempts, winner = f.resolveFanOut(ctx, userID, ref)
	} else {
		attempts, winner = f.resolveSequential(ctx, userID, ref)
	}

	fallbackApplied := len(attempts) > 1

	if winner != nil {
		rec := f.writeRecord(ctx, ref, start, attempts, &winner.attr.Source, winner.attr.Confidence, fallbackApplied, "")
		zap.L().Info("resolution short-circuited",
			zap.String("source", string(winner.attr.Source)),
			zap.Float64("confidence", winner.attr.Confidence),
			zap.Int("attempted", len(attempts)),
		)
		return &Result{Data: winner.data, Confidence: winner.attr.Confidence, Record: rec}, nil
	}

	// No single qualifying hit: merge whatever succeeded below threshold.
	var successes []Scored
	for i := range attempts {
		if attempts[i].err == nil {
			successes = append(successes, Scored{Data: attempts[i].data, Attribution: attempts[i].attr})
		}
	}

	if len(successes) == 0 {
		details := joinErrors(attempts)
		f.writeRecord(ctx, ref, start, attempts, nil, 0, fallbackApplied, details)
		zap.L().Warn("resolution exhausted with no successes",
			zap.String("food", ref.Name),
			zap.Int("attempted", len(attempts)),
		)
		return nil, eris.Wrapf(ErrDataUnavailable, "all %d sources failed: %s", len(attempts), details)
	}

	merged, confidence, err := f.conflict.Resolve(successes)
	if err != nil {
		return nil, err
	}

	var successfulSource *model.DataSource
	if len(successes) == 1 {
		successfulSource = &successes[0].Attribution.Source
	}
	rec := f.writeRecord(ctx, ref, start, attempts, successfulSource, confidence, fallbackApplied, joinErrors(attempts))
	zap.L().Info("resolution merged sub-threshold results",
		zap.Int("sources_merged", len(successes)),
		zap.Float64("confidence", confidence),
	)
	return &Result{Data: merged, Confidence: confidence, Record: rec}, nil
}

// resolveSequential walks the chain in order, stopping at the first
// qualifying success.
func (f *Fallback) resolveSequential(ctx context.Context, userID string, ref model.FoodRef) ([]attempt, *attempt) {
	var attempts []attempt
	for _, client := range f.clients {
		a := f.attemptOne(ctx, client, userID, ref)
		attempts = append(attempts, a)
		if a.err == nil && a.attr.Confidence >= f.cfg.ConfidenceThreshold {
			return attempts, &attempts[len(attempts)-1]
		}
		if a.err != nil {
			zap.L().Debug("source attempt failed, continuing chain",
				zap.String("source", client.Name()),
				zap.Error(a.err),
			)
		}
	}
	return attempts, nil
}

// resolveFanOut attempts clients in bounded-parallel batches. The first
// qualifying success cancels in-flight siblings, but results that already
// returned are still folded into the audit trail.
func (f *Fallback) resolveFanOut(ctx context.Context, userID string, ref model.FoodRef) ([]attempt, *attempt) {
	var (
		mu        sync.Mutex
		attempts  []attempt
		winnerIdx = -1
	)

	for batchStart := 0; batchStart < len(f.clients); batchStart += f.cfg.FanOut {
		end := batchStart + f.cfg.FanOut
		if end > len(f.clients) {
			end = len(f.clients)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, client := range f.clients[batchStart:end] {
			g.Go(func() error {
				a := f.attemptOne(gctx, client, userID, ref)
				mu.Lock()
				defer mu.Unlock()
				attempts = append(attempts, a)
				if a.err == nil && a.attr.Confidence >= f.cfg.ConfidenceThreshold && winnerIdx < 0 {
					winnerIdx = len(attempts) - 1
					return errShortCircuit
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil && !errors.Is(err, errShortCircuit) {
			zap.L().Debug("fan-out batch error", zap.Error(err))
		}
		if winnerIdx >= 0 {
			break
		}
	}

	if winnerIdx >= 0 {
		return attempts, &attempts[winnerIdx]
	}
	return attempts, nil
}

// attemptOne runs a single rate-limited, deadline-bounded source call.
func (f *Fallback) attemptOne(ctx context.Context, client source.Client, userID string, ref model.FoodRef) attempt {
	a := attempt{client: client}
	a.attr.Source = client.Source()

	if err := f.limiter.Acquire(ctx, client.Name(), userID); err != nil {
		a.err = source.NewError(source.KindRateLimited, client.Source(), err)
		return a
	}

	callCtx, cancel := context.WithTimeout(ctx, f.cfg.PerSourceTimeout)
	defer cancel()

	began := time.Now()
	breaker := f.breakers.Get(client.Name())
	retryCfg := f.retry
	retryCfg.OnRetry = resilience.RetryLogger(client.Name())

	var data *model.NutritionData
	var attr model.Attribution
	err := resilience.Do(callCtx, retryCfg, func(ctx context.Context) error {
		return breaker.Execute(ctx, func(ctx context.Context) error {
			var qerr error
			data, attr, qerr = client.Query(ctx, ref)
			return qerr
		})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		a.err = source.NewError(source.KindRateLimited, client.Source(), err)
		return a
	}
	if err != nil {
		a.err = err
		return a
	}
	if err := data.Validate(); err != nil {
		a.err = source.NewError(source.KindMalformed, client.Source(), err)
		return a
	}

	a.data = data
	a.attr = attr.WithSyncLatency(time.Since(began))
	return a
}

// writeRecord builds and persists the single audit record for this call.
// Audit failures are logged, never propagated: the resolution itself stands.
func (f *Fallback) writeRecord(ctx context.Context, ref model.FoodRef, start time.Time, attempts []attempt, successful *model.DataSource, confidence float64, fallbackApplied bool, errorDetails string) model.ResolutionRecord {
	attempted := make([]model.DataSource, 0, len(attempts))
	for _, a := range attempts {
		attempted = append(attempted, a.client.Source())
	}

	rec := model.ResolutionRecord{
		ID:                     uuid.New().String(),
		FoodQuery:              ref,
		AttemptedSources:       attempted,
		SuccessfulSource:       successful,
		ResolutionTimeMS:       time.Since(start).Milliseconds(),
		FinalConfidence:        confidence,
		FallbackApplied:        fallbackApplied,
		CrowdsourcingRequested: confidence > 0 && confidence < f.cfg.ConfidenceThreshold,
		ErrorDetails:           errorDetails,
		CreatedAt:              time.Now().UTC(),
	}

	if f.audit != nil {
		if err := f.audit.AppendResolution(ctx, rec); err != nil {
			zap.L().Error("failed to append resolution record", zap.Error(err))
		}
	}
	return rec
}

func joinErrors(attempts []attempt) string {
	var parts []string
	for _, a := range attempts {
		if a.err != nil {
			parts = append(parts, a.client.Name()+": "+a.err.Error())
		}
	}
	return strings.Join(parts, "; ")
}
