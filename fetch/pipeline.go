package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/justapithecus/livewatch/clock"
	"github.com/justapithecus/livewatch/log"
	"github.com/justapithecus/livewatch/metrics"
	"github.com/justapithecus/livewatch/queue"
	"github.com/justapithecus/livewatch/ratelimit"
	"github.com/justapithecus/livewatch/types"
)

// DefaultBatchSize is the API cap on ids per fetch request.
const DefaultBatchSize = 10

// DefaultScope is the rate-limit scope fetch requests are paced in.
const DefaultScope = "account"

// ResultsFunc is called after a cycle enqueued at least one record.
type ResultsFunc func(key types.ListenerKey, enqueued int)

// Config configures a Pipeline.
type Config struct {
	// BatchSize caps ids per request. Zero means DefaultBatchSize.
	BatchSize int
	// Scope is the governor scope. Empty means DefaultScope.
	Scope string
	// OnResults is optional.
	OnResults ResultsFunc
}

// Pipeline processes notification batches. Sub-batches are fetched
// sequentially so the governor's burst accounting is meaningful.
type Pipeline struct {
	doer      Doer
	governor  *ratelimit.Governor
	queue     *queue.Queue
	clock     clock.Clock
	logger    *log.Logger
	metrics   *metrics.Collector
	batchSize int
	scope     string
	onResults ResultsFunc
}

// NewPipeline wires a pipeline. logger and collector may be nil.
func NewPipeline(cfg Config, doer Doer, gov *ratelimit.Governor, q *queue.Queue, clk clock.Clock, logger *log.Logger, collector *metrics.Collector) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{
		doer:      doer,
		governor:  gov,
		queue:     q,
		clock:     clk,
		logger:    logger.With(map[string]any{"component": "fetch"}),
		metrics:   collector,
		batchSize: cfg.BatchSize,
		scope:     cfg.Scope,
		onResults: cfg.OnResults,
	}
}

// CycleResult summarizes one Process call.
type CycleResult struct {
	Requested int
	Batches   int
	Skipped   int
	Decoded   int
	Enqueued  int
	Evicted   int
}

// Process fetches ids for key and enqueues the results. It returns
// ErrUnavailable when a 503 aborted the cycle, or the context error.
// Other per-batch failures are logged and skipped.
func (p *Pipeline) Process(ctx context.Context, key types.ListenerKey, ids []string) (CycleResult, error) {
	res := CycleResult{Requested: len(ids)}
	logger := p.logger.With(map[string]any{"listener": key.String()})

	for batch := range slices.Chunk(ids, p.batchSize) {
		res.Batches++
		records, err := p.fetchBatch(ctx, logger, key, batch)
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				logger.Warn("fetch unavailable, abandoning cycle", map[string]any{
					"remaining": len(ids) - (res.Batches-1)*p.batchSize,
				})
				p.finish(key, res)
				return res, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				p.finish(key, res)
				return res, ctxErr
			}
			res.Skipped++
			continue
		}

		res.Decoded += len(records)
		for _, rec := range records {
			evicted, err := p.queue.Push(rec)
			if err != nil {
				continue
			}
			res.Enqueued++
			if evicted != nil {
				res.Evicted++
				logger.Debug("queue full, evicted oldest", map[string]any{"evicted": evicted.ID})
			}
		}
	}

	p.finish(key, res)
	return res, nil
}

func (p *Pipeline) finish(key types.ListenerKey, res CycleResult) {
	if res.Enqueued > 0 && p.onResults != nil {
		p.onResults(key, res.Enqueued)
	}
}

// fetchBatch paces, fetches and decodes one sub-batch.
func (p *Pipeline) fetchBatch(ctx context.Context, logger *log.Logger, key types.ListenerKey, batch []string) ([]types.ResultRecord, error) {
	resp, err := p.request(ctx, key.QueryID, batch)
	if err != nil {
		logger.Warn("fetch failed", map[string]any{"error": err.Error(), "ids": len(batch)})
		return nil, err
	}

	records, err := Decode(resp.Body, key, p.clock.Now())
	if err != nil {
		p.metrics.IncFetchDecodeError()
		logger.Warn("fetch decode failed", map[string]any{"error": err.Error()})
		return nil, err
	}
	return records, nil
}

// request paces one call, sends it and feeds the response back into the
// governor. Non-2xx statuses come back as classified errors.
func (p *Pipeline) request(ctx context.Context, queryID string, ids []string) (*Response, error) {
	if _, err := p.governor.Wait(ctx, p.scope); err != nil {
		return nil, err
	}

	p.metrics.IncFetchRequest()
	resp, err := p.doer.Fetch(ctx, queryID, ids)
	if err != nil {
		p.metrics.IncFetchFailure()
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		p.metrics.IncFetchOverLimit()
	}
	if _, err := p.governor.HandleOverLimit(ctx, p.scope, resp.StatusCode, resp.Header); err != nil {
		return nil, err
	}

	if err := classify(resp.StatusCode); err != nil {
		if !errors.Is(err, ErrOverLimit) {
			p.metrics.IncFetchFailure()
		}
		return nil, err
	}
	return resp, nil
}

// Refresh refetches rec to obtain a fresh token. The returned record keeps
// rec's identity and arrival time.
func (p *Pipeline) Refresh(ctx context.Context, rec types.ResultRecord) (types.ResultRecord, error) {
	p.metrics.IncTokenRefresh()

	resp, err := p.request(ctx, rec.Listener.QueryID, []string{rec.ID})
	if err != nil {
		return rec, fmt.Errorf("refresh %s: %w", rec.ID, err)
	}

	fresh, err := Decode(resp.Body, rec.Listener, p.clock.Now())
	if err != nil {
		p.metrics.IncFetchDecodeError()
		return rec, fmt.Errorf("refresh %s: %w", rec.ID, err)
	}
	for _, f := range fresh {
		if f.ID == rec.ID {
			return rec.WithToken(f.Token), nil
		}
	}
	return rec, fmt.Errorf("refresh %s: %w", rec.ID, ErrNoToken)
}
