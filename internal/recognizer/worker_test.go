package recognizer

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// TestHelperProcess is not a real test: it is the worker subprocess used
// by the tests below (re-executing the test binary).
func TestHelperProcess(t *testing.T) {
	if os.Getenv("LIVEOCR_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	fmt.Fprintln(os.Stderr, "[INFO] helper worker ready")
	for {
		var req Request
		if err := ReadFrame(os.Stdin, &req); err != nil {
			return
		}
		resp := Response{Seq: req.Seq}
		if req.Width == 0 {
			resp.Error = "empty frame"
		} else {
			resp.Blocks = []stabilitygate.TextCandidate{{
				Text: fmt.Sprintf("W%dH%d", req.Width, req.Height),
				Box:  &stabilitygate.Rect{Left: 0, Top: 0, Right: req.Width, Bottom: req.Height},
			}}
		}
		if err := WriteFrame(os.Stdout, resp); err != nil {
			return
		}
	}
}

func startHelper(t *testing.T) *Worker {
	t.Helper()
	w, err := Start(context.Background(), Config{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     []string{"LIVEOCR_WANT_HELPER_PROCESS=1"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return w
}

func TestWorker_RecognizeOverSubprocess(t *testing.T) {
	w := startHelper(t)
	defer w.Stop()

	blocks, err := w.Recognize(context.Background(), frame(1))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "W4H2", blocks[0].Text)
	assert.Equal(t, stabilitygate.Rect{Left: 0, Top: 0, Right: 4, Bottom: 2}, *blocks[0].Box)

	_, err = w.Recognize(context.Background(), &stabilitygate.Observation{})
	assert.Error(t, err)
}

func TestWorker_StopReapsProcess(t *testing.T) {
	w := startHelper(t)
	require.NoError(t, w.Stop())

	select {
	case <-w.Exited():
	default:
		t.Fatal("worker not reaped after Stop")
	}
	require.NoError(t, w.Stop(), "Stop is idempotent")

	_, err := w.Recognize(context.Background(), frame(1))
	assert.Error(t, err)
}

func TestStart_Validation(t *testing.T) {
	_, err := Start(context.Background(), Config{})
	assert.Error(t, err)

	_, err = Start(context.Background(), Config{Command: "/nonexistent/ocr-worker"})
	assert.Error(t, err)
}
