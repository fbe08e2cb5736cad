package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"studyroom-bot/internal/usecase"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatch: dispatcher closed")

type Handler interface {
	Handle(ctx context.Context, ev usecase.Event) error
}

type job struct {
	ctx context.Context
	ev  usecase.Event
}

// Dispatcher runs events of one user strictly in arrival order while
// different users proceed concurrently. A user's worker exits as soon as its
// queue drains.
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	queues map[int64][]job
	closed bool
	wg     sync.WaitGroup
}

func New(handler Handler, logger *slog.Logger) (*Dispatcher, error) {
	if handler == nil {
		return nil, errors.New("dispatch: handler must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handler: handler, logger: logger, queues: make(map[int64][]job)}, nil
}

// Dispatch queues ev behind any pending events of the same user. It never
// blocks on the handler.
func (d *Dispatcher) Dispatch(ctx context.Context, ev usecase.Event) error {
	key := ev.UserID
	if key == 0 {
		key = ev.ChatID
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	q, running := d.queues[key]
	d.queues[key] = append(q, job{ctx: ctx, ev: ev})
	if !running {
		d.wg.Add(1)
		go d.run(key)
	}
	return nil
}

// Workers returns the number of users with a live worker.
func (d *Dispatcher) Workers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Close stops accepting events and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(key int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		next := q[0]
		q[0] = job{}
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.handle(next)
	}
}

func (d *Dispatcher) handle(j job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				"update_id", j.ev.UpdateID, "user_id", j.ev.UserID, "panic", fmt.Sprint(r))
		}
	}()
	err := d.handler.Handle(j.ctx, j.ev)
	if err == nil {
		return
	}
	code := usecase.CodeOf(err)
	attrs := []any{"update_id", j.ev.UpdateID, "user_id", j.ev.UserID, "chat_id", j.ev.ChatID,
		"command", j.ev.Command, "error_code", code, "err", err}
	if code == usecase.ErrorInternal {
		d.logger.Error("event failed", attrs...)
		return
	}
	d.logger.Warn("event rejected", attrs...)
}
