package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lumina-hq/atlas/pkg/backends"
	"lumina-hq/atlas/pkg/ledger"
	"lumina-hq/atlas/pkg/money"
	"lumina-hq/atlas/pkg/pricing"
	"lumina-hq/atlas/pkg/tokens"
	"lumina-hq/atlas/pkg/usage"
)

// Stream is a live streaming request. Chunks relays the backend's output;
// after the channel closes, Result returns the billing outcome.
type Stream struct {
	// RequestID is the gateway-assigned request identifier
	RequestID string

	// Chunks relays backend chunks to the caller. A backend failure is
	// relayed as a final chunk with Err set. Closed when the stream ends,
	// fails, or is canceled.
	Chunks <-chan *backends.Chunk

	done   chan struct{}
	result *Result
	err    error
}

// Result blocks until the stream has been settled and returns the billing
// outcome. The error is non-nil when the stream failed: with a nil Result
// if nothing was delivered, or alongside the settled Result when the stream
// was truncated after partial output.
func (s *Stream) Result() (*Result, error) {
	<-s.done
	return s.result, s.err
}

// ExecuteStream runs a streaming request. Streaming responses are never
// served from or stored to the response cache.
//
// Settlement is deferred to the end of the stream. When the backend reports
// usage on the terminal chunk, that measurement is billed. When the stream
// is cut short (client cancel or mid-stream backend failure) the delivered
// content is billed from the token estimate of what was actually relayed,
// and a backend failure is still surfaced through Chunks and Result.
// A stream that fails before producing any output releases the hold in
// full.
func (e *Engine) ExecuteStream(ctx context.Context, accountID, identifier string, req *backends.Request) (*Stream, error) {
	if req.Operation != backends.OpChat && req.Operation != backends.OpCompletion {
		return nil, fmt.Errorf("operation %q is not streamable", req.Operation)
	}

	requestID := uuid.NewString()
	start := time.Now()

	handle, err := e.registry.Resolve(identifier, req.Operation)
	if err != nil {
		return nil, err
	}
	req.Model = handle.Model
	price, err := e.pricing.Table().Lookup(handle.Provider, handle.Model)
	if err != nil {
		return nil, err
	}

	estimate, err := e.estimator.EstimateRequest(req)
	if err != nil {
		return nil, err
	}
	held := pricing.TokenCost(price, estimate.PromptTokens, estimate.CompletionTokens)

	res, err := e.reserve(ctx, accountID, held)
	if err != nil {
		return nil, err
	}

	chunks, err := e.streamWithRetry(ctx, handle, req)
	if err != nil {
		if relErr := e.ledger.Release(ctx, res); relErr != nil {
			e.logger.Error("failed to release reservation after stream open failure",
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

	out := make(chan *backends.Chunk)
	stream := &Stream{
		RequestID: requestID,
		Chunks:    out,
		done:      make(chan struct{}),
	}

	go e.relay(ctx, stream, out, chunks, &relayState{
		requestID: requestID,
		accountID: accountID,
		handle:    handle,
		price:     price,
		req:       req,
		res:       res,
		estimate:  estimate,
		start:     start,
	})

	return stream, nil
}

type relayState struct {
	requestID string
	accountID string
	handle    *backends.Handle
	price     *pricing.ModelPrice
	req       *backends.Request
	res       *ledger.Reservation
	estimate  *tokens.Estimate
	start     time.Time
}

// relay forwards chunks to the caller, accumulating delivered content, and
// settles the reservation when the stream ends however it ends.
func (e *Engine) relay(ctx context.Context, stream *Stream, out chan<- *backends.Chunk, in <-chan *backends.Chunk, st *relayState) {
	defer close(stream.done)
	defer close(out)

	var (
		delivered     strings.Builder
		terminalUnits *backends.MeasuredUnits
		streamErr     error
		canceled      bool
	)

relay:
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				break relay
			}
			if chunk.Err != nil {
				// Relay the failure so channel consumers see a terminal
				// error chunk rather than a silent close.
				streamErr = chunk.Err
				select {
				case out <- chunk:
				case <-ctx.Done():
					canceled = true
				}
				break relay
			}
			if chunk.Units != nil {
				terminalUnits = chunk.Units
			}

			select {
			case out <- chunk:
				delivered.WriteString(chunk.Delta)
			case <-ctx.Done():
				canceled = true
				break relay
			}

		case <-ctx.Done():
			canceled = true
			break relay
		}
	}

	// Settlement runs on a fresh context; the request context may already
	// be canceled and the ledger must still be updated.
	settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if streamErr != nil && delivered.Len() == 0 {
		// Failed before any output: full release, like a failed Invoke.
		e.finishFailed(settleCtx, st, streamErr)
		stream.err = streamErr
		return
	}

	units := e.deliveredUnits(st, terminalUnits, delivered.String())
	result, err := e.finishSettled(settleCtx, st, units)
	stream.result, stream.err = result, err
	if err == nil && streamErr != nil {
		// The delivered portion is billed, but the stream did not complete;
		// a truncated stream must not look like a finished one.
		stream.err = streamErr
	}

	if streamErr != nil || canceled {
		e.logger.Info("stream cut short, billed delivered content",
			"request_id", st.requestID,
			"canceled", canceled,
			"delivered_chars", delivered.Len(),
		)
	}
}

// deliveredUnits builds the billable measurement for the stream. The
// backend's terminal usage report wins; otherwise the relayed content is
// estimated.
func (e *Engine) deliveredUnits(st *relayState, terminalUnits *backends.MeasuredUnits, delivered string) backends.MeasuredUnits {
	if terminalUnits != nil {
		return *terminalUnits
	}
	return backends.MeasuredUnits{
		PromptTokens:     st.estimate.PromptTokens,
		CompletionTokens: e.estimator.EstimateText(delivered),
	}
}

func (e *Engine) finishFailed(ctx context.Context, st *relayState, cause error) {
	if err := e.ledger.Release(ctx, st.res); err != nil {
		e.logger.Error("failed to release reservation after stream failure",
			"request_id", st.requestID,
			"reservation", st.res.ID,
			"error", err,
		)
	}
	latency := time.Since(st.start)
	e.recordUsage(st.requestID, st.accountID, st.handle, st.req.Operation,
		backends.MeasuredUnits{}, money.Zero(), money.Zero(), latency,
		usage.OutcomeError, false, false)
	if e.metrics != nil {
		e.metrics.ObserveRequest(st.handle.Provider, st.handle.Model,
			string(st.req.Operation), string(usage.OutcomeError), latency)
	}
	e.logger.Warn("stream failed before output",
		"request_id", st.requestID,
		"provider", st.handle.Provider,
		"model", st.handle.Model,
		"error", cause,
	)
}

func (e *Engine) finishSettled(ctx context.Context, st *relayState, units backends.MeasuredUnits) (*Result, error) {
	actual := pricing.TokenCost(st.price, units.PromptTokens, units.CompletionTokens)

	settlement, err := e.ledger.Settle(ctx, st.res, actual, st.requestID)
	if err != nil {
		e.logger.Error("stream settlement failed",
			"request_id", st.requestID,
			"reservation", st.res.ID,
			"error", err,
		)
		return nil, err
	}

	latency := time.Since(st.start)
	charged := actual.Sub(settlement.Unbilled)
	e.recordUsage(st.requestID, st.accountID, st.handle, st.req.Operation, units,
		charged, settlement.Unbilled, latency, usage.OutcomeSuccess,
		settlement.OverrunUnbilled, false)
	e.observeBilled(st.handle, st.req.Operation, units, charged, latency, settlement)

	return &Result{
		RequestID:  st.requestID,
		Provider:   st.handle.Provider,
		Model:      st.handle.Model,
		Cost:       charged,
		Settlement: settlement,
		Latency:    latency,
	}, nil
}
