package recognizer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// stopGrace is how long a worker gets to exit after stdin closes.
const stopGrace = 2 * time.Second

// Config describes the worker subprocess.
type Config struct {
	Command string
	Args    []string
	Env     []string // appended to the parent environment
	Timeout time.Duration
}

// Worker is a running recognition subprocess.
//
// Its stdin carries requests, stdout carries responses and stderr is
// forwarded to slog.
type Worker struct {
	cfg    Config
	cmd    *exec.Cmd
	client *Client

	wg     sync.WaitGroup
	exited chan struct{}
}

// Start spawns the worker. ctx bounds the process lifetime.
func Start(ctx context.Context, cfg Config) (*Worker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("recognizer: command is required")
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start recognizer worker: %w", err)
	}

	w := &Worker{
		cfg:    cfg,
		cmd:    cmd,
		client: NewClient(stdin, stdout, cfg.Timeout),
		exited: make(chan struct{}),
	}

	slog.Info("recognizer: worker spawned",
		"command", cfg.Command,
		"pid", cmd.Process.Pid,
	)

	w.wg.Add(1)
	go w.logStderr(stderr)

	go w.waitProcess(ctx)

	return w, nil
}

// Recognize implements streamcapture.Recognizer.
func (w *Worker) Recognize(ctx context.Context, obs *stabilitygate.Observation) ([]stabilitygate.TextCandidate, error) {
	return w.client.Recognize(ctx, obs)
}

// logStderr maps "[LEVEL]" prefixes in worker output to slog levels.
func (w *Worker) logStderr(r io.Reader) {
	defer w.wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("recognizer: worker error", "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("recognizer: worker warning", "log", line)
		default:
			slog.Debug("recognizer: worker log", "log", line)
		}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// waitProcess reaps the process so it never lingers as a zombie.
func (w *Worker) waitProcess(ctx context.Context) {
	defer close(w.exited)

	// Wait closes the pipes; let both readers finish first.
	w.wg.Wait()
	<-w.client.readDone
	err := w.cmd.Wait()

	switch {
	case err == nil:
		slog.Info("recognizer: worker exited cleanly", "pid", w.cmd.Process.Pid)
	case ctx.Err() != nil:
		slog.Debug("recognizer: worker exited (shutdown)", "pid", w.cmd.Process.Pid)
	default:
		slog.Error("recognizer: worker exited unexpectedly", "pid", w.cmd.Process.Pid, "error", err)
	}
}

// Exited is closed once the process has been reaped.
func (w *Worker) Exited() <-chan struct{} { return w.exited }

// Stop closes stdin and waits for the worker to exit, killing it after
// a grace period. Idempotent.
func (w *Worker) Stop() error {
	w.client.Close()

	select {
	case <-w.exited:
		return nil
	case <-time.After(stopGrace):
	}

	slog.Warn("recognizer: worker did not exit, killing", "pid", w.cmd.Process.Pid)
	if err := w.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("recognizer: kill worker: %w", err)
	}
	<-w.exited
	return nil
}
