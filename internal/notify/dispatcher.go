package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrDispatcherClosed = errors.New("email dispatcher closed")
	ErrQueueFull        = errors.New("email queue full")
)

// DispatchRecorder observes delivery outcomes. *metrics.Metrics satisfies it.
type DispatchRecorder interface {
	EmailDispatched(kind string, err error)
}

type job struct {
	msg    Message
	result chan error
}

// Dispatcher sends messages on a fixed pool of workers. Each send gets its
// own timeout, detached from the request that queued it.
type Dispatcher struct {
	mailer   Mailer
	timeout  time.Duration
	logger   *slog.Logger
	recorder DispatchRecorder

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

func NewDispatcher(mailer Mailer, workers int, timeout time.Duration, logger *slog.Logger, recorder DispatchRecorder) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		mailer:   mailer,
		timeout:  timeout,
		logger:   logger,
		recorder: recorder,
		jobs:     make(chan job, workers*16),
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}

	return d
}

// Dispatch queues msg and returns a channel that receives exactly one value,
// nil on delivery. Callers may ignore the channel; it is buffered.
func (d *Dispatcher) Dispatch(msg Message) <-chan error {
	result := make(chan error, 1)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		result <- ErrDispatcherClosed
		close(result)
		return result
	}

	select {
	case d.jobs <- job{msg: msg, result: result}:
	default:
		d.observe(msg, ErrQueueFull)
		result <- ErrQueueFull
		close(result)
	}

	return result
}

// Close stops intake and blocks until queued messages are handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for j := range d.jobs {
		err := d.send(j.msg)
		d.observe(j.msg, err)
		j.result <- err
		close(j.result)
	}
}

func (d *Dispatcher) send(msg Message) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("mailer panicked")
			d.logger.Error("mailer panic", "kind", msg.Kind, "panic", rec)
		}
	}()

	return d.mailer.Send(ctx, msg)
}

func (d *Dispatcher) observe(msg Message, err error) {
	if d.recorder != nil {
		d.recorder.EmailDispatched(msg.Kind, err)
	}
	if err != nil {
		d.logger.Warn("email dispatch failed", "kind", msg.Kind, "to", msg.To, "error", err)
		return
	}
	d.logger.Debug("email dispatched", "kind", msg.Kind, "to", msg.To)
}
