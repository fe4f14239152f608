package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SourceStatus summarizes the observation source
type SourceStatus struct {
	Kind         string  `json:"kind"`
	Observations uint64  `json:"observations"`
	Dropped      uint64  `json:"dropped"`
	DropRate     float64 `json:"drop_rate"`
	FPSReal      float64 `json:"fps_real"`
	LatencyMS    int64   `json:"latency_ms"`
	Reconnects   uint32  `json:"reconnects"`
	Running      bool    `json:"running"`
}

// SessionStatus describes one running session
type SessionStatus struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Count     uint32    `json:"count"`
	HeldMS    int64     `json:"held_ms"`
	StartedAt time.Time `json:"started_at"`
}

// Status represents the health state of the service
type Status struct {
	Status        string          `json:"status"` // "healthy", "degraded", "stopped"
	InstanceID    string          `json:"instance_id"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	MQTTConnected bool            `json:"mqtt_connected"`
	Source        SourceStatus    `json:"source"`
	InboxDrops    uint64          `json:"inbox_drops"`
	Sessions      []SessionStatus `json:"sessions"`
}

// Status returns a snapshot of the service
func (s *Service) Status() Status {
	s.mu.Lock()
	running := s.running
	started := s.started
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	src := s.source.Stats()
	st := Status{
		Status:     "healthy",
		InstanceID: s.cfg.InstanceID,
		Source: SourceStatus{
			Kind:         src.Kind,
			Observations: src.Observations,
			Dropped:      src.Dropped,
			DropRate:     src.DropRate,
			FPSReal:      src.FPSReal,
			LatencyMS:    src.LatencyMS,
			Reconnects:   src.Reconnects,
			Running:      src.IsRunning,
		},
		InboxDrops: s.supplier.Stats().InboxDrops,
		Sessions:   make([]SessionStatus, 0, len(sessions)),
	}
	if !started.IsZero() {
		st.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if s.mqtt != nil {
		st.MQTTConnected = s.mqtt.IsConnected()
	}

	for _, sess := range sessions {
		w := sess.Window()
		st.Sessions = append(st.Sessions, SessionStatus{
			ID:        sess.ID(),
			State:     sess.State().String(),
			Count:     w.Count,
			HeldMS:    w.Held.Milliseconds(),
			StartedAt: sess.StartedAt(),
		})
	}
	sort.Slice(st.Sessions, func(i, j int) bool { return st.Sessions[i].ID < st.Sessions[j].ID })

	switch {
	case !running:
		st.Status = "stopped"
	case !src.IsRunning || (s.mqtt != nil && !st.MQTTConnected):
		st.Status = "degraded"
	}
	return st
}

// Handler serves /metrics and /healthz.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := s.Status()
		w.Header().Set("Content-Type", "application/json")
		if st.Status == "stopped" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(st); err != nil {
			slog.Debug("healthz write failed", "error", err)
		}
	})
	return mux
}

func (s *Service) serveHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("core: metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
