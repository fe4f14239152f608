package streamcapture

import "context"

// Source produces observations for the stability engine.
//
// Implementations must guarantee:
//   - Start() returns immediately (non-blocking)
//   - The returned channel is closed exactly once, when the source ends
//     (Stop, ctx cancellation, end of stream or terminal failure)
//   - Err() reports why the channel closed (nil for Stop/cancellation)
//   - Stop() is idempotent
//   - Stats() is thread-safe
type Source interface {
	// Start begins acquisition and returns the observation channel.
	//
	// Observations MUST NOT be modified by consumers (shared by pointer).
	// Pixel sources drop observations when the consumer is behind rather
	// than queueing them.
	//
	// Example:
	//   src := streamcapture.NewReplaySource(cfg)
	//   obsCh, err := src.Start(ctx)
	//   if err != nil {
	//       return err
	//   }
	//   for obs := range obsCh {
	//       supplier.Publish(obs)
	//   }
	//   if err := src.Err(); err != nil {
	//       // ErrAcquisition, ErrPermissionDenied or ErrStreamEnded
	//   }
	Start(ctx context.Context) (<-chan *Observation, error)

	// Stop shuts the source down and waits up to 3 seconds for it to
	// release resources. Safe to call multiple times and before Start.
	Stop() error

	// Stats returns current source statistics.
	Stats() SourceStats

	// Err returns the terminal error once the channel is closed.
	// It wraps ErrAcquisition, ErrPermissionDenied or ErrStreamEnded.
	Err() error
}
