package autopilot

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/leadpilot/pkg/models"
)

// ErrPoolClosed is returned by Submit after Close
var ErrPoolClosed = errors.New("autopilot: pool closed")

// Job is one inbound message waiting for the pipeline
type Job struct {
	TenantID int64
	Message  models.InboundMessage
	// Done is called on the worker goroutine with the pipeline outcome
	Done func(*models.ProcessingResult, error)
}

// Processor is the part of the engine the pool drives
type Processor interface {
	ProcessInbound(ctx context.Context, tenantID int64, in models.InboundMessage) (*models.ProcessingResult, error)
}

// Pool runs jobs on a fixed set of workers. Jobs for the same lead always land on
// the same worker, so they are processed in arrival order without lock contention.
type Pool struct {
	proc   Processor
	queues []chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(proc Processor, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{proc: proc, queues: make([]chan Job, workers), ctx: ctx, cancel: cancel}
	for i := range p.queues {
		p.queues[i] = make(chan Job, queueSize)
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

// ShardFor maps a lead identity onto a worker index
func ShardFor(tenantID int64, channel models.Channel, leadExternalID string, n int) int {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(tenantID >> (8 * i))
	}
	h.Write(buf[:])
	h.Write([]byte{'|'})
	h.Write([]byte(channel))
	h.Write([]byte{'|'})
	h.Write([]byte(leadExternalID))
	return int(h.Sum32() % uint32(n))
}

// Submit enqueues a job, blocking while the worker's queue is full
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	q := p.queues[ShardFor(job.TenantID, job.Message.Channel, job.Message.LeadExternalID, len(p.queues))]
	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) work(i int) {
	defer p.wg.Done()
	logger := log.With().Str("component", "autopilot_pool").Int("worker", i).Logger()
	for job := range p.queues[i] {
		res, err := p.proc.ProcessInbound(p.ctx, job.TenantID, job.Message)
		if err != nil {
			logger.Warn().Err(err).Int64("tenant_id", job.TenantID).Str("external_id", job.Message.ExternalID).Msg("inbound processing failed")
		}
		if job.Done != nil {
			job.Done(res, err)
		}
	}
}

// Close stops accepting jobs, drains the queues and waits for the workers
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}
