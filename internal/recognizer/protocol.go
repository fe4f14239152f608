// Package recognizer talks to an external text recognition worker.
//
// Wire format (both directions): 4-byte big-endian length, then a msgpack
// body. One request is in flight at a time.
//
//	request:  {seq, width, height, stride, format, pixels}
//	response: {seq, blocks: [{text, box: {left, top, right, bottom}}], error}
package recognizer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// MaxFrameSize bounds a single message (a 4K RGBA frame is ~33 MiB).
const MaxFrameSize = 64 << 20

// ErrFrameTooLarge is returned for a length prefix above MaxFrameSize.
var ErrFrameTooLarge = errors.New("recognizer: frame too large")

// Request is one recognition request.
type Request struct {
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Stride int    `msgpack:"stride"`
	Format string `msgpack:"format"`
	Pixels []byte `msgpack:"pixels"`
}

// Response is the worker's answer to the request with the same Seq.
type Response struct {
	Seq    uint64                        `msgpack:"seq"`
	Blocks []stabilitygate.TextCandidate `msgpack:"blocks"`
	Error  string                        `msgpack:"error,omitempty"`
}

// WriteFrame writes v as one length-prefixed msgpack message.
func WriteFrame(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	// Single write so a concurrent reader never sees a prefix without body.
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed msgpack message into v.
// A clean EOF before the prefix is returned as io.EOF.
func ReadFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("failed to read length prefix: %w", err)
		}
		return err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("failed to read msgpack body: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}

// NewRequest builds the request for a pixel observation.
func NewRequest(seq uint64, obs *stabilitygate.Observation) Request {
	return Request{
		Seq:    seq,
		Width:  obs.Width,
		Height: obs.Height,
		Stride: obs.Stride,
		Format: obs.Format.String(),
		Pixels: obs.Pixels,
	}
}
