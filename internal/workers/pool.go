// Package workers provides the bounded worker pool used to fan discovery
// out across scan blocks.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/netmapper/netmapper/internal/logging"
	"github.com/netmapper/netmapper/internal/probe"
)

// Job is one block of a scan: an index within the parent scan and the CIDR
// to sweep.
type Job struct {
	Index int
	CIDR  string
}

// Result is the outcome of one block. A failed block carries Err and no
// hosts; the parent scan continues regardless.
type Result struct {
	Job    Job
	Hosts  []probe.Host
	Err    error
	Worker int
}

// RunFunc executes one block and returns its hosts.
type RunFunc func(ctx context.Context, cidr string) ([]probe.Host, error)

// Stats holds pool counters.
type Stats struct {
	JobsQueued    int64
	JobsCompleted int64
	JobsFailed    int64
	LastJobTime   time.Time
}

// Pool runs block jobs across a fixed number of workers.
type Pool struct {
	size   int
	run    RunFunc
	logger *logging.Logger

	stats      Stats
	statsMutex sync.RWMutex
}

// NewPool creates a pool of the given size. Size must be at least 1.
func NewPool(size int, run RunFunc, logger *logging.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:   size,
		run:    run,
		logger: logger.WithComponent("workers"),
	}
}

// Execute fans the given blocks out across the pool and blocks until every
// job has finished or the context is canceled. Results are returned in job
// order. At most `size` blocks run concurrently.
func (p *Pool) Execute(ctx context.Context, cidrs []string) []Result {
	jobs := make(chan Job)
	results := make([]Result, len(cidrs))

	var wg sync.WaitGroup
	for w := 0; w < p.size; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for job := range jobs {
				results[job.Index] = p.executeJob(ctx, worker, job)
			}
		}(w)
	}

	p.updateStats(func(s *Stats) { s.JobsQueued += int64(len(cidrs)) })

queue:
	for i, cidr := range cidrs {
		select {
		case jobs <- Job{Index: i, CIDR: cidr}:
		case <-ctx.Done():
			for j := i; j < len(cidrs); j++ {
				results[j] = Result{Job: Job{Index: j, CIDR: cidrs[j]}, Err: ctx.Err()}
			}
			break queue
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.size
}

// GetStats returns a snapshot of the pool counters.
func (p *Pool) GetStats() Stats {
	p.statsMutex.RLock()
	defer p.statsMutex.RUnlock()
	return p.stats
}

func (p *Pool) executeJob(ctx context.Context, worker int, job Job) Result {
	if err := ctx.Err(); err != nil {
		return Result{Job: job, Err: err, Worker: worker}
	}

	hosts, err := p.run(ctx, job.CIDR)
	if err != nil {
		p.logger.ErrorScan("block discovery failed", job.CIDR, err, "worker", worker)
		p.updateStats(func(s *Stats) {
			s.JobsFailed++
			s.LastJobTime = time.Now()
		})
		return Result{Job: job, Err: err, Worker: worker}
	}

	p.updateStats(func(s *Stats) {
		s.JobsCompleted++
		s.LastJobTime = time.Now()
	})
	return Result{Job: job, Hosts: hosts, Worker: worker}
}

func (p *Pool) updateStats(updater func(*Stats)) {
	p.statsMutex.Lock()
	defer p.statsMutex.Unlock()
	updater(&p.stats)
}
