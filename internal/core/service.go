// Package core wires observation sources, capture sessions, result sinks
// and the control plane into one service.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/phiasco12/liveocr/internal/config"
	"github.com/phiasco12/liveocr/internal/control"
	"github.com/phiasco12/liveocr/internal/emitter"
	"github.com/phiasco12/liveocr/modules/framebus"
	"github.com/phiasco12/liveocr/modules/framesupplier"
	"github.com/phiasco12/liveocr/modules/stabilitygate"
	streamcapture "github.com/phiasco12/liveocr/modules/stream-capture"
)

// Service errors.
var (
	ErrNotRunning      = errors.New("core: service is not running")
	ErrAlreadyRunning  = errors.New("core: service is already running")
	ErrSessionExists   = errors.New("core: session already exists")
	ErrSessionNotFound = errors.New("core: session not found")
)

// Options configures a Service.
type Options struct {
	Config *config.Config
	Source streamcapture.Source

	// Sink receives every committed result. nil discards results.
	Sink emitter.Sink

	// Events receives session events (progress, fired, cancelled). Optional.
	Events EventPublisher

	// MQTT enables the control plane on cfg.MQTT.Topics.Control. Optional.
	MQTT mqtt.Client

	// Registerer receives the service metrics. nil uses the default registry.
	Registerer prometheus.Registerer
	// Gatherer serves /metrics. nil uses the default gatherer.
	Gatherer prometheus.Gatherer

	// ConfigPath enables hot reload of engine defaults when set.
	ConfigPath string
}

// Service is the capture service orchestrator
type Service struct {
	cfg     *config.Config
	source  streamcapture.Source
	sink    emitter.Sink
	events  EventPublisher
	mqtt    mqtt.Client
	control *control.Handler

	configPath string
	gatherer   prometheus.Gatherer

	supplier framesupplier.Supplier
	bus      framebus.Bus
	metrics  *Metrics

	// defaults are the hot-reloadable session settings.
	defaults atomic.Pointer[sessionDefaults]

	mu       sync.Mutex
	sessions map[string]*Session
	// pending holds sessions started before Run.
	pending []*Session
	// active counts launched sessions still running.
	active   sync.WaitGroup
	running  bool
	finished bool
	started  time.Time
	runCtx   context.Context
	group    *errgroup.Group
}

type sessionDefaults struct {
	engine     stabilitygate.Config
	timeout    time.Duration
	progressHz float64
}

// New creates a service. The engine defaults in cfg are validated here.
func New(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("core: config is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("core: source is required")
	}
	if err := opts.Config.Engine.WithDefaults().Validate(); err != nil {
		return nil, fmt.Errorf("core: engine defaults: %w", err)
	}

	s := &Service{
		cfg:        opts.Config,
		source:     opts.Source,
		sink:       opts.Sink,
		events:     opts.Events,
		mqtt:       opts.MQTT,
		configPath: opts.ConfigPath,
		gatherer:   opts.Gatherer,
		supplier:   framesupplier.New(),
		bus:        framebus.New(),
		sessions:   make(map[string]*Session),
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.metrics = NewMetrics(reg, func() float64 {
		return float64(s.supplier.Stats().InboxDrops)
	})

	s.storeDefaults(opts.Config)

	if s.mqtt != nil && opts.Config.MQTT.Topics.Control != "" {
		s.control = control.NewHandler(s.mqtt, opts.Config.MQTT.Topics.Control, opts.Config.MQTT.QoS, controller{s})
	}
	return s, nil
}

func (s *Service) storeDefaults(cfg *config.Config) {
	s.defaults.Store(&sessionDefaults{
		engine:     cfg.Engine.WithDefaults(),
		timeout:    cfg.SessionTimeout(),
		progressHz: cfg.Session.ProgressHz,
	})
}

// EngineDefaults returns the engine configuration new sessions start from.
func (s *Service) EngineDefaults() stabilitygate.Config {
	return s.defaults.Load().engine
}

// Run starts the source and blocks until ctx is cancelled or the source
// ends. Running sessions are cancelled on return.
//
// Returns nil on cancellation, otherwise the source's terminal error.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.finished || s.group != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.supplier.Start(ctx); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("core: start supplier: %w", err)
	}

	obs, err := s.source.Start(ctx)
	if err != nil {
		s.finished = true
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()

		err = fmt.Errorf("core: start source: %w", err)
		for _, sess := range pending {
			sess.fail(err)
			go func() {
				defer s.removeSession(sess.ID())
				_, _ = sess.Run(context.Background())
			}()
		}
		s.supplier.Stop()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	s.runCtx = gctx
	s.mu.Unlock()

	// A failing group member stops the source, which ends the pump.
	stopSource := context.AfterFunc(gctx, cancel)
	defer stopSource()

	slog.Info("liveocr service starting",
		"instance_id", s.cfg.InstanceID,
		"source", s.source.Stats().Kind,
		"engine_strategy", s.EngineDefaults().Strategy,
		"engine_mode", s.EngineDefaults().Mode,
	)

	// Events are relayed from before the first session can start.
	if s.events != nil {
		stopEvents, err := s.forwardEvents(gctx)
		if err != nil {
			slog.Warn("session events disabled", "error", err)
		} else {
			defer stopEvents()
		}
	}

	s.mu.Lock()
	s.running = true
	s.started = time.Now()
	for _, sess := range s.pending {
		s.launch(sess)
	}
	s.pending = nil
	s.mu.Unlock()

	g.Go(func() error {
		defer cancel()
		// The pump holds the group open until no more sessions can be
		// added, so StartSession never races g.Wait.
		defer s.markFinished()
		return s.pump(gctx, obs)
	})

	if s.control != nil {
		if err := s.control.Start(gctx); err != nil {
			slog.Warn("control plane disabled", "error", err)
		} else {
			defer s.control.Stop()
		}
	}

	if s.cfg.Metrics.Listen != "" {
		g.Go(func() error { return s.serveHTTP(gctx, s.cfg.Metrics.Listen) })
	}

	if s.configPath != "" {
		w, err := config.NewWatcher(s.configPath, s.ApplyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		} else {
			defer w.Close()
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	err = g.Wait()

	s.bus.Close()
	if stopErr := s.source.Stop(); stopErr != nil {
		slog.Warn("source stop failed", "error", stopErr)
	}

	slog.Info("liveocr service stopped", "error", err)
	return err
}

// StartSession creates a session. While the service runs it starts
// immediately; before Run it is queued and starts ahead of the first
// observation. Zero-valued options take the current defaults; opts.Engine
// is used as given when its Strategy or Mode is set.
func (s *Service) StartSession(opts SessionOptions) (*Session, error) {
	d := s.defaults.Load()
	if opts.Engine.Strategy == "" && opts.Engine.Mode == "" {
		opts.Engine = d.engine
	}
	if opts.Timeout == 0 {
		opts.Timeout = d.timeout
	}
	if opts.ProgressHz == 0 {
		opts.ProgressHz = d.progressHz
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return nil, ErrNotRunning
	}
	if opts.ID != "" {
		if _, exists := s.sessions[opts.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, opts.ID)
		}
	}

	sess, err := newSession(opts, s.supplier, s.bus, s.sink, s.metrics)
	if err != nil {
		return nil, err
	}
	s.sessions[sess.ID()] = sess

	if !s.running {
		s.pending = append(s.pending, sess)
		return sess, nil
	}
	s.launch(sess)
	return sess, nil
}

// launch runs sess on the service group. Caller holds s.mu.
func (s *Service) launch(sess *Session) {
	ctx := s.runCtx
	s.active.Add(1)
	s.group.Go(func() error {
		defer s.active.Done()
		defer s.removeSession(sess.ID())
		// Session outcomes are reported through sinks and events; they
		// never end the service.
		_, _ = sess.Run(ctx)
		return nil
	})
}

// StopSession cancels a running session.
func (s *Service) StopSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Stop()
	return nil
}

// Session returns a running session by ID.
func (s *Service) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Bus exposes session events to in-process subscribers.
func (s *Service) Bus() framebus.Bus { return s.bus }

func (s *Service) markFinished() {
	s.mu.Lock()
	s.running = false
	s.finished = true
	s.mu.Unlock()
}

func (s *Service) removeSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// endSessions records cause (wrapped in ErrSourceFailed) on every
// session. Sessions keep consuming what the supplier already delivered and
// end with that cause once their reader closes, unless they fire first.
func (s *Service) endSessions(cause error) {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.sourceEnded(cause)
	}
}
