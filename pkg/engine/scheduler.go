// Package engine validates compliance jobs and fans them out across a
// bounded worker pool: one task per record, one LLM call per matching rule.
package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/metrics"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/models"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/prompt"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/ratelimit"
	"github.com/maulikganatra-bit/ai-compliance-check/pkg/trace"
)

// Engine is the dispatch scheduler. It owns request validation, prompt
// prefetch, and the chunked record fan-out.
type Engine struct {
	cfg      *config.Config
	resolver *prompt.Resolver
	executor *Executor
	limiter  *ratelimit.Limiter
	metrics  metrics.Recorder
}

// New builds the engine. A nil recorder disables metrics.
func New(cfg *config.Config, resolver *prompt.Resolver, executor *Executor, limiter *ratelimit.Limiter, rec metrics.Recorder) *Engine {
	if rec == nil {
		rec = metrics.Nop()
	}
	return &Engine{
		cfg:      cfg,
		resolver: resolver,
		executor: executor,
		limiter:  limiter,
		metrics:  rec,
	}
}

// Check runs one compliance job: validate, resolve every required prompt,
// fan the records out, aggregate. promptVersion pins every prompt fetch to
// that registry version when positive; zero means latest. Validation and
// prompt failures reject the job before any LLM traffic.
func (e *Engine) Check(ctx context.Context, req *models.CheckRequest, promptVersion int) (*models.CheckResponse, error) {
	logger := trace.Logger(ctx)
	logger.Info("Received compliance check",
		"records", len(req.Data), "selectors", len(req.AIViolationID))

	received := time.Now()
	plan, err := buildPlan(req)
	if err != nil {
		logger.Warn("Request rejected", "error", err)
		e.metrics.ObserveJob(metrics.JobRejected, time.Since(received))
		return nil, err
	}

	// elapsed_time in the response covers prefetch through aggregation,
	// excluding validation.
	start := time.Now()
	if err := e.prefetch(ctx, plan, promptVersion); err != nil {
		logger.Warn("Prompt prefetch failed", "error", err)
		e.metrics.ObserveJob(metrics.JobRejected, time.Since(received))
		return nil, err
	}

	jobCtx, cancel := context.WithTimeout(ctx, e.cfg.Engine.JobTimeout)
	defer cancel()

	results, err := e.runAll(jobCtx, req.Data, plan)
	if err != nil {
		e.metrics.ObserveJob(metrics.JobFailed, time.Since(received))
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Error("Job deadline exceeded, discarding partial results",
				"timeout", e.cfg.Engine.JobTimeout, "records", len(req.Data))
			return nil, &JobTimeoutError{Timeout: e.cfg.Engine.JobTimeout}
		}
		return nil, err
	}

	totalTokens := 0
	for _, r := range results {
		totalTokens += r.TokensUsed
	}
	elapsed := time.Since(start)

	e.metrics.ObserveJob(metrics.JobCompleted, time.Since(received))
	e.metrics.AddRecords(len(results))
	logger.Info("Compliance check completed",
		"records", len(results), "total_tokens", totalTokens, "elapsed", elapsed)

	return &models.CheckResponse{
		OK:          http.StatusOK,
		Results:     results,
		RequestID:   trace.RequestID(ctx),
		TotalTokens: totalTokens,
		ElapsedTime: elapsed.Seconds(),
	}, nil
}

// prefetch batch-loads every (rule, tenant) pair in the plan and attaches
// the resolved entries. Any unresolvable pair aborts the job.
func (e *Engine) prefetch(ctx context.Context, plan jobPlan, version int) error {
	pairs := plan.pairs()

	var entries map[prompt.Key]*prompt.Entry
	if version > 0 {
		entries = e.resolver.PinnedBatch(ctx, pairs, version)
	} else {
		entries = e.resolver.LoadBatch(ctx, pairs)
	}

	var missing []prompt.Key
	for _, specs := range plan {
		for _, s := range specs {
			key := prompt.Key{RuleID: s.RuleID, TenantID: s.Tenant}
			entry := entries[key]
			if entry == nil {
				missing = append(missing, key)
				continue
			}
			s.Entry = entry
		}
	}
	if len(missing) > 0 {
		sortPairs(missing)
		return &MissingPromptsError{Pairs: missing}
	}
	return nil
}

// runAll processes records through a bounded pool. Admission happens in
// chunks: before each chunk the limiter is re-queried and the admission
// semaphore is replaced when the safe concurrency moved. Tasks already
// admitted keep the permits they hold; the old semaphore is discarded once
// its chunk drains.
func (e *Engine) runAll(ctx context.Context, records []models.Record, plan jobPlan) ([]*models.RecordResult, error) {
	logger := trace.Logger(ctx)
	start := time.Now()

	permits := e.limiter.SafeConcurrency()
	sem := make(chan struct{}, permits)
	chunkSize := e.cfg.Engine.ChunkSize
	totalChunks := (len(records) + chunkSize - 1) / chunkSize

	logger.Info("Starting batch processing",
		"records", len(records), "concurrency", permits, "chunks", totalChunks)

	results := make([]*models.RecordResult, len(records))
	for begin := 0; begin < len(records); begin += chunkSize {
		end := min(begin+chunkSize, len(records))

		if c := e.limiter.SafeConcurrency(); c != permits {
			logger.Info("Adjusting concurrency", "from", permits, "to", c)
			permits = c
			sem = make(chan struct{}, permits)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := begin; i < end; i++ {
			rec := &records[i]
			idx := i
			admit := sem // tasks release to the semaphore they acquired from
			g.Go(func() error {
				select {
				case admit <- struct{}{}:
					defer func() { <-admit }()
				case <-gctx.Done():
					return gctx.Err()
				}
				results[idx] = e.processRecord(gctx, rec, plan[rec.MLSID])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		// Executors absorb cancellation into per-finding errors, so a dead
		// job context still drains its chunk cleanly. Check it here: partial
		// results must not masquerade as a completed job.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger.Info("Progress",
			"completed", end,
			"total", len(records),
			"percent", float64(end)*100/float64(len(records)),
			"elapsed", time.Since(start))
	}

	return results, nil
}

// processRecord runs every matching rule for one record concurrently and
// aggregates the findings. All-clear findings collapse to null entries.
func (e *Engine) processRecord(ctx context.Context, rec *models.Record, specs []*ruleSpec) *models.RecordResult {
	start := time.Now()
	logger := trace.Logger(ctx)
	logger.Debug("Processing record",
		"mlsnum", rec.MLSNum, "tenant", rec.MLSID, "rules", len(specs))

	findings := make([]*models.RuleFinding, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec *ruleSpec) {
			defer wg.Done()
			findings[i] = e.executor.Execute(ctx, spec.RuleID, spec.fieldValues(rec), spec.Entry)
		}(i, spec)
	}
	wg.Wait()

	result := &models.RecordResult{
		MLSNum: rec.MLSNum,
		MLSID:  rec.MLSID,
		Rules:  make(map[string]*models.RuleFinding, len(specs)),
	}
	for i, spec := range specs {
		finding := findings[i]
		result.TokensUsed += finding.TotalTokens
		if finding.Empty() {
			result.Rules[spec.RuleID] = nil
			continue
		}
		result.Rules[spec.RuleID] = finding
	}
	result.Latency = time.Since(start).Seconds()

	logger.Debug("Record processed",
		"mlsnum", rec.MLSNum, "latency_seconds", result.Latency, "tokens", result.TokensUsed)
	return result
}
