package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/config"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/extractor"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/graphsink"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/llm"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/parser"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/pattern"
)

// Orchestrator manages the document extraction pipeline. Each document gets
// its own worker pass with no shared mutable state between documents.
type Orchestrator struct {
	jobs      *JobStore
	queue     chan *Job
	completer llm.Completer
	sink      *graphsink.Client
	matcher   *pattern.Matcher
	extCfg    extractor.Config
	log       *slog.Logger
	cfg       config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline.
func NewOrchestrator(cfg config.Config, completer llm.Completer, sink *graphsink.Client, matcher *pattern.Matcher, extCfg extractor.Config, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:      NewJobStore(cfg.JobTTL),
		queue:     make(chan *Job, cfg.MaxQueueSize),
		completer: completer,
		sink:      sink,
		matcher:   matcher,
		extCfg:    extCfg,
		log:       log,
		cfg:       cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	parseOpts := parser.Options{
		MaxSectionRunes:      o.cfg.MaxSectionRunes,
		PDFFallbackPdftotext: o.cfg.PDFFallbackPdftotext,
	}

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.completer, o.sink, o.matcher, o.extCfg, o.log, parseOpts, o.cfg.MaxConcurrentExtract, o.cfg.MaxConcurrentPublish)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Sink returns the graph sink client for direct use by API handlers.
func (o *Orchestrator) Sink() *graphsink.Client {
	return o.sink
}
