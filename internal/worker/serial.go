// Package worker runs jobs on a single goroutine in submission order.
package worker

import (
	"context"
	"errors"
	"sync"
)

var ErrStopped = errors.New("worker stopped")

// Job runs on the writer goroutine. It must not call Do on the same Serial.
type Job func(ctx context.Context) error

type request struct {
	ctx  context.Context
	job  Job
	done chan error
}

// Serial is a FIFO single-writer queue: at most one job runs at a time and
// jobs run in the order their Do calls were accepted.
type Serial struct {
	jobs     chan request
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSerial starts the writer goroutine. backlog bounds queued jobs before
// Do blocks.
func NewSerial(backlog int) *Serial {
	if backlog < 0 {
		backlog = 0
	}
	s := &Serial{jobs: make(chan request, backlog), stop: make(chan struct{})}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Serial) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case req := <-s.jobs:
			if err := req.ctx.Err(); err != nil {
				req.done <- err
				continue
			}
			req.done <- req.job(req.ctx)
		}
	}
}

// Do enqueues job and waits for it to finish. A job already accepted runs to
// completion even if ctx is cancelled while it runs.
func (s *Serial) Do(ctx context.Context, job Job) error {
	req := request{ctx: ctx, job: job, done: make(chan error, 1)}
	select {
	case <-s.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case s.jobs <- req:
	}
	select {
	case err := <-req.done:
		return err
	case <-s.stop:
		return ErrStopped
	}
}

// Close stops the writer after the running job, if any, returns.
func (s *Serial) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
