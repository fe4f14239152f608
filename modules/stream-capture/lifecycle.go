package streamcapture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const stopTimeout = 3 * time.Second

// produceFunc is a source body. It is the only sender on out and must
// return once ctx is done.
type produceFunc func(ctx context.Context, out chan<- *Observation) error

// lifecycle owns the start/stop/err state shared by every source.
type lifecycle struct {
	name string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	started time.Time
}

// start runs body in its own goroutine and closes out when it returns.
func (l *lifecycle) start(parent context.Context, buffer int, body produceFunc) (<-chan *Observation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		return nil, ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(parent)
	out := make(chan *Observation, buffer)
	done := make(chan struct{})

	l.cancel = cancel
	l.done = done
	l.err = nil
	l.started = time.Now()

	go func() {
		err := body(ctx, out)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
		if err != nil {
			slog.Warn("stream-capture: source ended", "source", l.name, "error", err)
		}

		l.mu.Lock()
		l.err = err
		l.mu.Unlock()

		close(out)
		close(done)
		cancel()
	}()

	return out, nil
}

// stop cancels the body and waits for it. Idempotent.
func (l *lifecycle) stop() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(stopTimeout):
		slog.Warn("stream-capture: stop timeout exceeded", "source", l.name)
		return errors.New("stream-capture: stop timeout exceeded")
	}
}

func (l *lifecycle) terminalErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *lifecycle) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *lifecycle) startedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}
