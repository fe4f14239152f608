package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// LogSink logs each result at Info level.
type LogSink struct {
	Logger *slog.Logger // nil = slog.Default()
}

// Deliver implements Sink.
func (s LogSink) Deliver(ctx context.Context, d Delivery) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "emitter: result committed",
		"session_id", d.SessionID,
		"fingerprint", d.Result.Fingerprint.String(),
		"seq", d.Result.Seq,
		"mode", d.Result.Mode.String(),
		"stable_count", d.Result.Count,
		"held", d.Result.Held,
	)
	return nil
}

// WriterSink writes one JSON payload per line to an io.Writer.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink returns a sink writing JSON Lines to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

// Deliver implements Sink.
func (s *WriterSink) Deliver(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(NewPayload(d)); err != nil {
		return fmt.Errorf("emitter: write result: %w", err)
	}
	return nil
}
