package jobs

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"
)

// StatusFetcher performs one status query.
type StatusFetcher interface {
	Status(ctx context.Context, id JobID) (Job, error)
}

// StatusFetcherFunc adapts a function to StatusFetcher.
type StatusFetcherFunc func(ctx context.Context, id JobID) (Job, error)

func (f StatusFetcherFunc) Status(ctx context.Context, id JobID) (Job, error) {
	return f(ctx, id)
}

// Attempt is one status query. Err is set when the query itself failed.
type Attempt struct {
	Number int
	Job    Job
	Err    error
}

// Terminal reports whether the attempt ends polling.
func (a Attempt) Terminal() bool {
	return a.Err == nil && a.Job.Status.Terminal()
}

// Poller queries a job on a fixed interval with a bounded attempt budget.
type Poller struct {
	fetch       StatusFetcher
	interval    time.Duration
	maxAttempts int
}

func NewPoller(fetch StatusFetcher, interval time.Duration, maxAttempts int) (*Poller, error) {
	if fetch == nil {
		return nil, errors.New("status fetcher is required")
	}
	if interval < 0 {
		return nil, errors.New("poll interval must be >= 0")
	}
	if maxAttempts < 1 {
		return nil, errors.New("poll max attempts must be >= 1")
	}
	return &Poller{fetch: fetch, interval: interval, maxAttempts: maxAttempts}, nil
}

func (p *Poller) Interval() time.Duration { return p.interval }

func (p *Poller) MaxAttempts() int { return p.maxAttempts }

// Poll returns a lazy sequence of status queries for id. Nothing is sent until
// the sequence is ranged over, and ranging over it a second time yields
// nothing. The sequence ends after a terminal attempt, after MaxAttempts
// queries, or when ctx is cancelled.
func (p *Poller) Poll(ctx context.Context, id JobID) iter.Seq[Attempt] {
	var used atomic.Bool
	return func(yield func(Attempt) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for number := 1; number <= p.maxAttempts; number++ {
			if number > 1 {
				if timer == nil {
					timer = time.NewTimer(p.interval)
				} else {
					timer.Reset(p.interval)
				}
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			if ctx.Err() != nil {
				return
			}

			job, err := p.fetch.Status(ctx, id)
			if ctx.Err() != nil {
				return
			}

			attempt := Attempt{Number: number, Job: job, Err: err}
			if !yield(attempt) || attempt.Terminal() {
				return
			}
		}
	}
}
