package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lumina-hq/atlas/pkg/backends"
	"lumina-hq/atlas/pkg/cache"
	"lumina-hq/atlas/pkg/ledger"
	"lumina-hq/atlas/pkg/money"
	"lumina-hq/atlas/pkg/pricing"
	"lumina-hq/atlas/pkg/telemetry/metrics"
	"lumina-hq/atlas/pkg/tokens"
	"lumina-hq/atlas/pkg/usage"
)

// Config configures the gateway engine.
type Config struct {
	// Retry bounds retries of transient backend failures.
	Retry RetryConfig
}

// Engine is the request orchestrator.
type Engine struct {
	registry  *backends.Registry
	pricing   *pricing.Loader
	estimator tokens.Estimator
	ledger    *ledger.Ledger
	recorder  *usage.Recorder
	cache     *cache.Cache
	metrics   *metrics.Metrics
	retry     RetryConfig
	logger    *slog.Logger
}

// New wires an engine from its collaborators. The recorder, cache and
// metrics are optional; a nil cache disables response caching.
func New(cfg Config, registry *backends.Registry, loader *pricing.Loader,
	estimator tokens.Estimator, ldgr *ledger.Ledger, recorder *usage.Recorder,
	respCache *cache.Cache, m *metrics.Metrics) *Engine {

	return &Engine{
		registry:  registry,
		pricing:   loader,
		estimator: estimator,
		ledger:    ldgr,
		recorder:  recorder,
		cache:     respCache,
		metrics:   m,
		retry:     cfg.Retry.withDefaults(),
		logger:    slog.Default().With("component", "gateway"),
	}
}

// Execute runs a non-streaming request for the account against the
// "provider/model" identifier.
//
// Resolution and pricing failures surface before any credit moves. A cache
// hit bills nothing. Otherwise the engine reserves the estimated cost,
// invokes the backend, settles against the measured usage, and records the
// request.
func (e *Engine) Execute(ctx context.Context, accountID, identifier string, req *backends.Request) (*Result, error) {
	requestID := uuid.NewString()
	start := time.Now()

	handle, err := e.registry.Resolve(identifier, req.Operation)
	if err != nil {
		return nil, err
	}
	// The backend sees the resolved model, not the combined identifier.
	req.Model = handle.Model

	price, err := e.pricing.Table().Lookup(handle.Provider, handle.Model)
	if err != nil {
		return nil, err
	}

	if e.cache == nil {
		result, err := e.executeBilled(ctx, requestID, accountID, handle, price, req, start)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	key := e.cacheKey(handle, req)

	// The billed path runs inside the cache's compute slot so concurrent
	// identical requests collapse to one backend call.
	var direct *Result
	value, wasCached, err := e.cache.GetOrCompute(ctx, key, func(ctx context.Context) (any, bool, error) {
		result, err := e.executeBilled(ctx, requestID, accountID, handle, price, req, start)
		if err != nil {
			return nil, false, err
		}
		direct = result
		return result.Response, true, nil
	})
	if err != nil {
		return nil, err
	}

	if wasCached {
		result := &Result{
			RequestID: requestID,
			Provider:  handle.Provider,
			Model:     handle.Model,
			Response:  value.(*backends.Response),
			Cost:      money.Zero(),
			Cached:    true,
			Latency:   time.Since(start),
		}
		e.recordUsage(requestID, accountID, handle, req.Operation, result.Response.Units,
			money.Zero(), money.Zero(), result.Latency, usage.OutcomeSuccess, false, true)
		if e.metrics != nil {
			e.metrics.CacheHits.Inc()
			e.metrics.ObserveRequest(handle.Provider, handle.Model, string(req.Operation),
				string(usage.OutcomeSuccess), result.Latency)
		}
		return result, nil
	}

	if e.metrics != nil {
		e.metrics.CacheMisses.Inc()
	}
	return direct, nil
}

// executeBilled is the reserve / invoke / settle / record path.
func (e *Engine) executeBilled(ctx context.Context, requestID, accountID string,
	handle *backends.Handle, price *pricing.ModelPrice, req *backends.Request, start time.Time) (*Result, error) {

	estimate, err := e.estimateCost(price, req)
	if err != nil {
		return nil, err
	}

	res, err := e.reserve(ctx, accountID, estimate)
	if err != nil {
		return nil, err
	}

	resp, err := e.invokeWithRetry(ctx, handle, req)
	if err != nil {
		// Nothing was delivered; the hold goes back in full.
		if relErr := e.ledger.Release(ctx, res); relErr != nil {
			e.logger.Error("failed to release reservation after backend failure",
				"request_id", requestID,
				"reservation", res.ID,
				"error", relErr,
			)
		}
		latency := time.Since(start)
		e.recordUsage(requestID, accountID, handle, req.Operation, backends.MeasuredUnits{},
			money.Zero(), money.Zero(), latency, usage.OutcomeError, false, false)
		if e.metrics != nil {
			e.metrics.ObserveRequest(handle.Provider, handle.Model, string(req.Operation),
				string(usage.OutcomeError), latency)
		}
		return nil, err
	}

	actual, err := e.actualCost(price, req, resp.Units)
	if err != nil {
		// Pricing the measured usage failed; the safe fallback is to keep
		// the hold as the charge.
		e.logger.Error("failed to price measured usage, settling at the held amount",
			"request_id", requestID,
			"error", err,
		)
		actual = res.Held
	}

	settlement, err := e.ledger.Settle(ctx, res, actual, requestID)
	if err != nil {
		return nil, fmt.Errorf("settling request %s: %w", requestID, err)
	}

	latency := time.Since(start)
	charged := actual.Sub(settlement.Unbilled)
	e.recordUsage(requestID, accountID, handle, req.Operation, resp.Units,
		charged, settlement.Unbilled, latency, usage.OutcomeSuccess,
		settlement.OverrunUnbilled, false)
	e.observeBilled(handle, req.Operation, resp.Units, charged, latency, settlement)

	return &Result{
		RequestID:  requestID,
		Provider:   handle.Provider,
		Model:      handle.Model,
		Response:   resp,
		Cost:       charged,
		Settlement: settlement,
		Latency:    latency,
	}, nil
}

// estimateCost prices the request before the backend call.
func (e *Engine) estimateCost(price *pricing.ModelPrice, req *backends.Request) (money.Money, error) {
	switch req.Operation {
	case backends.OpChat, backends.OpCompletion, backends.OpEmbedding:
		est, err := e.estimator.EstimateRequest(req)
		if err != nil {
			return money.Zero(), err
		}
		return pricing.TokenCost(price, est.PromptTokens, est.CompletionTokens), nil

	case backends.OpImage:
		if req.Image == nil {
			return money.Zero(), fmt.Errorf("image operation without image spec")
		}
		return pricing.ImageCost(price, req.Image.Size, req.Image.Quality, req.Image.N)

	case backends.OpAudioTranscribe:
		if req.Audio == nil {
			return money.Zero(), fmt.Errorf("audio operation without audio spec")
		}
		return pricing.AudioCost(price, req.Audio.DurationSeconds), nil

	default:
		return money.Zero(), fmt.Errorf("unknown operation %q", req.Operation)
	}
}

// actualCost prices the backend-measured usage.
func (e *Engine) actualCost(price *pricing.ModelPrice, req *backends.Request, units backends.MeasuredUnits) (money.Money, error) {
	var size, quality string
	if req.Image != nil {
		size, quality = req.Image.Size, req.Image.Quality
	}
	return pricing.Cost(price, req.Operation, units, size, quality)
}

func (e *Engine) reserve(ctx context.Context, accountID string, estimate money.Money) (*ledger.Reservation, error) {
	res, err := e.ledger.Reserve(ctx, accountID, estimate)
	if e.metrics != nil {
		switch {
		case err == nil:
			e.metrics.ReservationsTotal.WithLabelValues("granted").Inc()
		case errors.Is(err, ledger.ErrInsufficientCredits):
			e.metrics.ReservationsTotal.WithLabelValues("insufficient").Inc()
		default:
			e.metrics.ReservationsTotal.WithLabelValues("error").Inc()
		}
	}
	return res, err
}

func (e *Engine) recordUsage(requestID, accountID string, handle *backends.Handle,
	op backends.Operation, units backends.MeasuredUnits, cost, unbilled money.Money,
	latency time.Duration, outcome usage.Outcome, overrun, cached bool) {

	if e.recorder == nil {
		return
	}
	err := e.recorder.Record(&usage.Record{
		RequestID:        requestID,
		AccountID:        accountID,
		Provider:         handle.Provider,
		Model:            handle.Model,
		Operation:        string(op),
		PromptTokens:     int64(units.PromptTokens),
		CompletionTokens: int64(units.CompletionTokens),
		Images:           int64(units.Images),
		AudioSeconds:     units.AudioSeconds,
		Cost:             cost,
		UnbilledCost:     unbilled,
		LatencyMs:        latency.Milliseconds(),
		Timestamp:        time.Now().UTC(),
		Outcome:          outcome,
		OverrunUnbilled:  overrun,
		Cached:           cached,
	})
	if err != nil {
		e.logger.Warn("failed to enqueue usage record",
			"request_id", requestID,
			"error", err,
		)
	}
}

func (e *Engine) observeBilled(handle *backends.Handle, op backends.Operation,
	units backends.MeasuredUnits, charged money.Money, latency time.Duration,
	settlement *ledger.Settlement) {

	if e.metrics == nil {
		return
	}
	e.metrics.ObserveRequest(handle.Provider, handle.Model, string(op),
		string(usage.OutcomeSuccess), latency)
	if units.PromptTokens > 0 {
		e.metrics.TokensTotal.WithLabelValues(handle.Provider, handle.Model, "prompt").
			Add(float64(units.PromptTokens))
	}
	if units.CompletionTokens > 0 {
		e.metrics.TokensTotal.WithLabelValues(handle.Provider, handle.Model, "completion").
			Add(float64(units.CompletionTokens))
	}
	e.metrics.SettledCostDollars.WithLabelValues(handle.Provider, handle.Model).
		Add(charged.InexactFloat64())
	if settlement != nil && settlement.OverrunUnbilled {
		e.metrics.OverrunsUnbilled.Inc()
	}
}

// cacheKey builds the content-addressed key for the request.
func (e *Engine) cacheKey(handle *backends.Handle, req *backends.Request) string {
	payload, err := json.Marshal(req)
	if err != nil {
		// Marshaling a Request cannot realistically fail; fall back to an
		// uncacheable unique key rather than erroring the request.
		payload = []byte(uuid.NewString())
	}
	if req.Audio != nil && len(req.Audio.Data) > 0 {
		payload = append(payload, req.Audio.Data...)
	}
	return cache.Key(handle.Provider, handle.Model, string(req.Operation), payload)
}
