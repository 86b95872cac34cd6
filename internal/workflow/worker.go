package workflow

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agenticai/healthguard/pkg/metrics"
)

// WorkerPool runs N queue consumers. Each consumer dequeues one workflow
// id and fully drives it to a terminal state before touching the next,
// which is what guarantees a single active Run per workflow id.
type WorkerPool struct {
	queue        *Queue
	orchestrator *Orchestrator
	count        int
	pollTimeout  time.Duration
	wg           sync.WaitGroup
}

// NewWorkerPool creates a pool of queue consumers
func NewWorkerPool(queue *Queue, orchestrator *Orchestrator, count int) *WorkerPool {
	if count <= 0 {
		count = 1
	}
	return &WorkerPool{
		queue:        queue,
		orchestrator: orchestrator,
		count:        count,
		pollTimeout:  5 * time.Second,
	}
}

// Start launches the consumers. They run until ctx is cancelled.
func (p *WorkerPool) Start(ctx context.Context) {
	log.Printf("[WorkerPool] Starting %d workflow workers", p.count)
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.consume(ctx, i)
	}
}

// Wait blocks until every consumer has exited
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) consume(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			log.Printf("[WorkerPool] Worker %d stopping", id)
			return
		}

		workflowID, err := p.queue.Dequeue(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("[WorkerPool] Worker %d stopping", id)
				return
			}
			log.Printf("[WorkerPool] Worker %d dequeue error: %v", id, err)
			time.Sleep(time.Second)
			continue
		}
		if workflowID == "" {
			p.reportDepths(ctx)
			continue
		}

		log.Printf("[WorkerPool] Worker %d picked up workflow %s", id, workflowID)
		if err := p.orchestrator.Run(ctx, workflowID); err != nil {
			log.Printf("[WorkerPool] Worker %d: workflow %s ended with error: %v", id, workflowID, err)
		}
	}
}

func (p *WorkerPool) reportDepths(ctx context.Context) {
	depths, err := p.queue.Depths(ctx)
	if err != nil {
		return
	}
	for priority, depth := range depths {
		metrics.QueueDepth(string(priority), depth)
	}
}
