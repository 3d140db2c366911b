package engine

import (
	"context"
	"sync"
	"time"
)

// Job is a stored record waiting to be linked into its namespace graph.
type Job struct {
	Namespace string
	ID        string
	Version   uint64
	Vector    []float32
	Token     Token
}

// IndexFunc links one job into the graph. It runs on a pool worker and is
// never called concurrently for the same Indexer.
type IndexFunc func(ctx context.Context, job Job) error

// IndexerOptions configures an Indexer.
type IndexerOptions struct {
	// BatchSize is the number of jobs taken from the queue per round.
	// Defaults to 256.
	BatchSize int

	// OnError is called for jobs whose IndexFunc failed for a reason other
	// than cancellation. Such jobs are counted as failed on their token.
	OnError func(job Job, err error)

	// OnBatch is called after every round with the number of linked jobs.
	OnBatch func(indexed int, elapsed time.Duration)
}

// Indexer is the single-writer indexing queue of one collection.
type Indexer struct {
	pool   *WorkerPool
	tokens *Tokens
	index  IndexFunc
	opts   IndexerOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	queue     []Job
	scheduled bool
	closed    bool
	idle      chan struct{}
}

// NewIndexer creates an indexer that runs index on pool and settles jobs
// in tokens.
func NewIndexer(pool *WorkerPool, tokens *Tokens, index IndexFunc, opts IndexerOptions) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	return &Indexer{
		pool:   pool,
		tokens: tokens,
		index:  index,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		idle:   idle,
	}
}

// Enqueue appends jobs to the queue and schedules a drain task on the pool
// unless one is already scheduled.
func (i *Indexer) Enqueue(jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	i.queue = append(i.queue, jobs...)
	if i.scheduled {
		i.mu.Unlock()
		return nil
	}
	i.scheduled = true
	i.idle = make(chan struct{})
	i.mu.Unlock()

	// Submit outside the lock: a full pool may block, and the running
	// workers may need i.mu to make progress.
	if err := i.pool.Submit(i.ctx, i.drain); err != nil {
		i.mu.Lock()
		i.scheduled = false
		close(i.idle)
		i.mu.Unlock()
		if i.ctx.Err() != nil {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (i *Indexer) drain() {
	for {
		i.mu.Lock()
		if len(i.queue) == 0 || i.ctx.Err() != nil {
			i.queue = nil
			i.scheduled = false
			close(i.idle)
			i.mu.Unlock()
			return
		}
		n := min(len(i.queue), i.opts.BatchSize)
		batch := i.queue[:n:n]
		i.queue = i.queue[n:]
		i.mu.Unlock()

		start := time.Now()
		indexed := 0
		for _, job := range batch {
			// Checkpoint between node insertions.
			if i.ctx.Err() != nil {
				break
			}
			err := i.index(i.ctx, job)
			if err != nil && i.ctx.Err() != nil {
				break
			}
			if err != nil {
				if i.opts.OnError != nil {
					i.opts.OnError(job, err)
				}
				i.tokens.Fail(job.Token, 1)
				continue
			}
			indexed++
			i.tokens.Settle(job.Token, 1)
		}

		if i.opts.OnBatch != nil {
			i.opts.OnBatch(indexed, time.Since(start))
		}
	}
}

// Pending returns the number of queued jobs not yet taken by a drain round.
func (i *Indexer) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.queue)
}

// Wait blocks until the indexer is idle or ctx is done.
func (i *Indexer) Wait(ctx context.Context) error {
	i.mu.Lock()
	idle := i.idle
	i.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels outstanding work at the next checkpoint, discards the
// queue and waits for the running drain task to return.
func (i *Indexer) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.cancel()
	idle := i.idle
	i.mu.Unlock()

	<-idle
}
