package audit

import (
	"context"
	"sync"
)

// DefaultQueueSize is the Recorder buffer used by the daemon.
const DefaultQueueSize = 256

// Logger is the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder writes entries to a Repository asynchronously.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRecorder creates a Recorder. Call Run to start draining.
func NewRecorder(repo Repository, size int) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan *Entry, size),
		logger: noopLogger{},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger. Call before Run.
func (r *Recorder) SetLogger(l Logger) {
	r.logger = l
}

// Record enqueues e without blocking. It reports false when the entry
// was dropped because the queue is full or the recorder stopped.
func (r *Recorder) Record(e *Entry) bool {
	select {
	case <-r.stop:
		return false
	default:
	}

	select {
	case r.queue <- e:
		return true
	default:
		r.logger.Warn("audit queue full, dropping entry", "action", e.Action, "device", e.Device)
		return false
	}
}

// Run drains the queue until Stop is called, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		case <-r.stop:
			for {
				select {
				case e := <-r.queue:
					r.write(context.WithoutCancel(ctx), e)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends Run after flushing queued entries and waits for it.
// Run must have been started.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Recorder) write(ctx context.Context, e *Entry) {
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("audit write failed", "action", e.Action, "device", e.Device, "error", err)
	}
}
