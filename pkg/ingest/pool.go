package ingest

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/acervolabs/acervo/pkg/apperr"
)

const (
	defaultCoreWorkers = 2
	defaultMaxWorkers  = 5
	defaultQueueSize   = 100
)

// PoolConfig holds configuration for the ingestion worker pool.
type PoolConfig struct {
	CoreWorkers int // always-on workers (default 2)
	MaxWorkers  int // burst ceiling (default 5)
	QueueSize   int // pending task capacity (default 100)
	Logger      hclog.Logger
}

// Pool is a bounded worker pool. Core workers run for the pool's lifetime;
// when the queue fills, burst workers spin up to the ceiling and retire once
// the queue drains. A full queue at the ceiling makes the submitting
// goroutine run the task itself, which throttles producers instead of
// dropping work.
type Pool struct {
	tasks  chan func()
	max    int
	logger hclog.Logger

	mu      sync.Mutex
	workers int
	closed  bool
	wg      sync.WaitGroup
}

// NewPool creates and starts a pool.
func NewPool(config PoolConfig) *Pool {
	if config.CoreWorkers <= 0 {
		config.CoreWorkers = defaultCoreWorkers
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = defaultMaxWorkers
	}
	if config.MaxWorkers < config.CoreWorkers {
		config.MaxWorkers = config.CoreWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	p := &Pool{
		tasks:   make(chan func(), config.QueueSize),
		max:     config.MaxWorkers,
		logger:  config.Logger.Named("ingest-pool"),
		workers: config.CoreWorkers,
	}
	for i := 0; i < config.CoreWorkers; i++ {
		p.wg.Add(1)
		go p.run(true)
	}
	return p
}

// Submit enqueues a task. It only blocks when the queue is full and every
// worker is busy, in which case the task runs on the calling goroutine.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apperr.New(apperr.KindConflict, "worker pool is closed")
	}

	select {
	case p.tasks <- task:
		p.mu.Unlock()
		return nil
	default:
	}

	if p.workers < p.max {
		p.workers++
		p.wg.Add(1)
		go p.run(false)

		select {
		case p.tasks <- task:
			p.mu.Unlock()
			return nil
		default:
		}
	}
	p.mu.Unlock()

	p.logger.Debug("queue saturated, running task on caller")
	task()
	return nil
}

func (p *Pool) run(core bool) {
	defer p.wg.Done()
	for {
		if core {
			task, ok := <-p.tasks
			if !ok {
				return
			}
			task()
			continue
		}

		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task()
		default:
			// Burst worker retires once the queue drains.
			p.mu.Lock()
			p.workers--
			p.mu.Unlock()
			return
		}
	}
}

// Close stops accepting tasks and waits for queued work to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
