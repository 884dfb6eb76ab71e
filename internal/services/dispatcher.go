package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"mpesa-orders/internal/metrics"

	"go.uber.org/zap"
)

var (
	ErrDispatcherFull   = errors.New("dispatcher queue is full")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// jobTimeout bounds a single side effect so a hung SMTP relay or broker cannot pin a worker.
const jobTimeout = 30 * time.Second

// Job is a best-effort side effect run off the request path.
type Job func(ctx context.Context) error

// Dispatcher hands side effects to background workers.
type Dispatcher interface {
	Enqueue(name string, job Job) error
}

type namedJob struct {
	name string
	run  Job
}

// WorkerPool is a bounded Dispatcher. Enqueue never blocks: a full queue drops the job.
// Job errors and panics are logged and counted, never propagated.
type WorkerPool struct {
	jobs    chan namedJob
	log     *zap.Logger
	metrics *metrics.Registry

	mu      sync.RWMutex // guards closed against concurrent Enqueue
	closed  bool
	workers sync.WaitGroup
	pending sync.WaitGroup
}

// NewWorkerPool starts workers goroutines consuming a queue of the given capacity.
func NewWorkerPool(capacity, workers int, m *metrics.Registry, log *zap.Logger) *WorkerPool {
	p := &WorkerPool{
		jobs:    make(chan namedJob, capacity),
		log:     log,
		metrics: m,
	}
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go func() {
			defer p.workers.Done()
			for job := range p.jobs {
				p.run(job)
			}
		}()
	}
	return p
}

// Enqueue schedules job. It returns ErrDispatcherFull or ErrDispatcherClosed when the
// job was not accepted.
func (p *WorkerPool) Enqueue(name string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrDispatcherClosed
	}

	p.pending.Add(1)
	select {
	case p.jobs <- namedJob{name: name, run: job}:
		return nil
	default:
		p.pending.Done()
		p.metrics.DispatchDropped.Inc()
		p.log.Warn("dispatcher queue full, dropping job", zap.String("job", name))
		return ErrDispatcherFull
	}
}

func (p *WorkerPool) run(job namedJob) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			p.metrics.SideEffectFailures.WithLabelValues(job.name).Inc()
			p.log.Error("side effect panicked", zap.String("job", job.name), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := job.run(ctx); err != nil {
		p.metrics.SideEffectFailures.WithLabelValues(job.name).Inc()
		p.log.Warn("side effect failed", zap.String("job", job.name), zap.Error(err))
	}
}

// Flush blocks until every accepted job has finished.
func (p *WorkerPool) Flush() {
	p.pending.Wait()
}

// Close stops accepting jobs, drains the queue and waits for the workers to exit.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.workers.Wait()
}
