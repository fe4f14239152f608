package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

const (
	// WriteTimeout bounds a request write (a hung worker stops reading).
	WriteTimeout = 2 * time.Second
	// DefaultTimeout bounds the wait for a response.
	DefaultTimeout = 5 * time.Second
)

var (
	// ErrClosed is returned once the worker connection is gone.
	ErrClosed = errors.New("recognizer: worker closed")
	// ErrTimeout is returned when a request or response times out.
	ErrTimeout = errors.New("recognizer: timeout")
)

// Client speaks the framing protocol over a writer/reader pair
// (the worker's stdin and stdout).
//
// Recognize is safe for concurrent use; calls are serialized.
type Client struct {
	w       io.WriteCloser
	timeout time.Duration

	mu  sync.Mutex // one request in flight
	seq uint64

	responses chan Response
	readDone  chan struct{}
	readErr   error

	closeOnce sync.Once
}

// NewClient starts reading responses from r.
func NewClient(w io.WriteCloser, r io.Reader, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		w:         w,
		timeout:   timeout,
		responses: make(chan Response, 4),
		readDone:  make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *Client) readLoop(r io.Reader) {
	defer close(c.readDone)

	for {
		var resp Response
		if err := ReadFrame(r, &resp); err != nil {
			if !errors.Is(err, io.EOF) {
				c.readErr = err
				slog.Error("recognizer: failed to read response", "error", err)
			}
			return
		}

		select {
		case c.responses <- resp:
		default:
			// Nobody is waiting for this many; the oldest is stale.
			select {
			case <-c.responses:
			default:
			}
			select {
			case c.responses <- resp:
			default:
			}
		}
	}
}

// Recognize sends obs to the worker and waits for its text blocks.
func (c *Client) Recognize(ctx context.Context, obs *stabilitygate.Observation) ([]stabilitygate.TextCandidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	seq := c.seq

	if err := c.write(ctx, NewRequest(seq, obs)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case resp := <-c.responses:
			if resp.Seq != seq {
				slog.Debug("recognizer: discarding stale response", "seq", resp.Seq, "want", seq)
				continue
			}
			if resp.Error != "" {
				return nil, fmt.Errorf("recognizer: worker error: %s", resp.Error)
			}
			return resp.Blocks, nil

		case <-c.readDone:
			// Drain a response that raced with the close.
			select {
			case resp := <-c.responses:
				if resp.Seq == seq && resp.Error == "" {
					return resp.Blocks, nil
				}
			default:
			}
			if c.readErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrClosed, c.readErr)
			}
			return nil, ErrClosed

		case <-timer.C:
			return nil, fmt.Errorf("%w: no response for seq %d after %v", ErrTimeout, seq, c.timeout)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// write sends one request; a hung worker fails it after WriteTimeout.
func (c *Client) write(ctx context.Context, req Request) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- WriteFrame(c.w, req)
	}()

	timer := time.NewTimer(WriteTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: stdin write (worker may be hung)", ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the request stream, asking the worker to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.w.Close()
	})
	return err
}
