package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prabhanshu11/omarchy-voice-typing/internal/audio"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/engine"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/metrics"
)

// State represents the lifecycle state of the model manager
type State string

const (
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateSwitching State = "switching"
	StateFailed    State = "failed"
)

// LoadedModel is the currently active engine instance. It is replaced,
// never mutated, on a successful switch.
type LoadedModel struct {
	Name           string
	ComputeProfile string
	engine         engine.Engine
}

// Status is a non-blocking snapshot of the manager
type Status struct {
	State State  `json:"status"`
	Model string `json:"model"`
}

// InferenceResult is the outcome of one serialized inference call
type InferenceResult struct {
	Text             string
	Language         string
	ModelName        string
	AudioSeconds     float64
	InferenceSeconds float64
	Segments         []engine.Segment
}

// ManagerConfig contains model manager configuration
type ManagerConfig struct {
	DefaultModel   string
	ComputeProfile string
	AllowedModels  []string
	Factory        engine.Factory
}

// Manager owns the active model and mediates all access to it
type Manager struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	factory engine.Factory

	defaultModel   string
	computeProfile string
	allowed        []string

	// loads carries completed load attempts back to the completion loop.
	// Capacity 1: at most one load is ever in flight.
	loads chan loadResult

	// infer is the single-flight slot guarding both inference and the
	// install of a freshly loaded engine.
	infer chan struct{}

	mu        sync.Mutex
	state     State
	switching bool
	active    *LoadedModel

	warmup *WarmupRunner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// loadResult is the message a load task sends back on completion
type loadResult struct {
	name    string
	profile string
	eng     engine.Engine
	err     error
	elapsed time.Duration
}

// NewManager creates a model manager. No model is loaded until the first
// RequestLoad; status reports "loading" until then.
func NewManager(logger *slog.Logger, m *metrics.Metrics, cfg ManagerConfig) (*Manager, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("engine factory cannot be nil")
	}

	if len(cfg.AllowedModels) == 0 {
		return nil, fmt.Errorf("allowed models list cannot be empty")
	}

	allowed := make([]string, len(cfg.AllowedModels))
	copy(allowed, cfg.AllowedModels)
	sort.Strings(allowed)

	if cfg.DefaultModel == "" {
		return nil, fmt.Errorf("default model cannot be empty")
	}

	if !contains(allowed, cfg.DefaultModel) {
		return nil, fmt.Errorf("default model %q is not in the allowed list", cfg.DefaultModel)
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		logger:         logger,
		metrics:        m,
		factory:        cfg.Factory,
		defaultModel:   cfg.DefaultModel,
		computeProfile: cfg.ComputeProfile,
		allowed:        allowed,
		loads:          make(chan loadResult, 1),
		infer:          make(chan struct{}, 1),
		state:          StateLoading,
		warmup:         NewWarmupRunner(logger),
		ctx:            ctx,
		cancel:         cancel,
	}

	mgr.wg.Add(1)
	go mgr.completionLoop()

	return mgr, nil
}

// AllowedModels returns the sorted allow-list
func (m *Manager) AllowedModels() []string {
	out := make([]string, len(m.allowed))
	copy(out, m.allowed)
	return out
}

// RequestLoad starts an asynchronous load of the named model and returns
// immediately. It is rejected when the name is outside the allow-list, a
// load is already in flight, or the model is already active and serving.
func (m *Manager) RequestLoad(name string) error {
	if !contains(m.allowed, name) {
		return &UnknownModelError{Name: name, Allowed: m.AllowedModels()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.switching {
		return ErrSwitchInProgress
	}

	// Only a Ready model short-circuits; a Failed manager may re-request
	// the resident model to recover.
	if m.state == StateReady && m.active != nil && m.active.Name == name {
		return ErrAlreadyLoaded
	}

	m.switching = true
	if m.active == nil {
		m.state = StateLoading
	} else {
		m.state = StateSwitching
	}

	m.wg.Add(1)
	go m.load(name)

	return nil
}

// load constructs an engine instance and reports the outcome over the
// loads channel. No timeout is imposed; construction may take tens of
// seconds on constrained hardware.
func (m *Manager) load(name string) {
	defer m.wg.Done()

	m.logger.Info("loading model",
		slog.String("model", name),
		slog.String("compute", m.computeProfile),
	)

	start := time.Now()
	eng, err := m.factory(name, m.computeProfile)

	m.loads <- loadResult{
		name:    name,
		profile: m.computeProfile,
		eng:     eng,
		err:     err,
		elapsed: time.Since(start),
	}
}

// completionLoop receives finished loads and installs them. Keeping the
// install on a single goroutine means the active engine is never touched
// from a load task directly.
func (m *Manager) completionLoop() {
	defer m.wg.Done()

	for {
		select {
		case result := <-m.loads:
			m.install(result)
		case <-m.ctx.Done():
			return
		}
	}
}

// install swaps in a freshly loaded engine, or records the failure.
// The swap waits for any in-flight inference to finish; the previous
// engine is released only after the new one is active.
func (m *Manager) install(result loadResult) {
	if result.err != nil {
		m.metrics.RecordModelLoadFailure(result.elapsed.Seconds())
		m.logger.Error("model load failed",
			slog.String("model", result.name),
			slog.Duration("elapsed", result.elapsed),
			slog.String("error", result.err.Error()),
		)

		m.mu.Lock()
		m.switching = false
		m.state = StateFailed
		m.mu.Unlock()
		m.metrics.SetModelReady(false)
		return
	}

	// Take the single-flight slot so the swap cannot race an inference
	m.infer <- struct{}{}

	m.mu.Lock()
	previous := m.active
	m.active = &LoadedModel{
		Name:           result.name,
		ComputeProfile: result.profile,
		engine:         result.eng,
	}
	m.switching = false
	m.state = StateReady
	m.mu.Unlock()

	<-m.infer

	if previous != nil {
		// Nothing references the old handle anymore; release it off
		// the serving path.
		go previous.engine.Close()
	}

	m.metrics.RecordModelLoad(result.elapsed.Seconds())
	m.metrics.SetModelReady(true)
	m.logger.Info("model ready",
		slog.String("model", result.name),
		slog.String("compute", result.profile),
		slog.Duration("load_time", result.elapsed),
	)

	m.warmup.Run(m)
}

// RunInference runs one serialized inference over normalized audio.
// It fails fast with ErrNotReady instead of queueing behind a load.
func (m *Manager) RunInference(ctx context.Context, in *audio.NormalizedAudio) (*InferenceResult, error) {
	m.mu.Lock()
	ready := m.state == StateReady && m.active != nil
	m.mu.Unlock()

	if !ready {
		return nil, ErrNotReady
	}

	select {
	case m.infer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-m.infer }()

	// Re-check under the slot: a switch may have completed (or failed)
	// while we waited.
	m.mu.Lock()
	active := m.active
	state := m.state
	m.mu.Unlock()

	if state != StateReady || active == nil {
		return nil, ErrNotReady
	}

	start := time.Now()
	result, err := active.engine.Transcribe(in.Samples)
	elapsed := time.Since(start)

	if err != nil {
		m.metrics.RecordInferenceFailure()
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	m.metrics.RecordInference(elapsed.Seconds(), in.Duration())

	return &InferenceResult{
		Text:             result.Text,
		Language:         result.Language,
		ModelName:        active.Name,
		AudioSeconds:     in.Duration(),
		InferenceSeconds: elapsed.Seconds(),
		Segments:         result.Segments,
	}, nil
}

// CurrentStatus returns a snapshot of the manager state. Never blocks on
// an in-flight load or inference.
func (m *Manager) CurrentStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := m.defaultModel
	if m.active != nil {
		name = m.active.Name
	}

	return Status{State: m.state, Model: name}
}

// Close stops background tasks and releases the active engine
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()

	// A load may have completed after the completion loop exited
	select {
	case result := <-m.loads:
		if result.eng != nil {
			result.eng.Close()
		}
	default:
	}

	m.mu.Lock()
	active := m.active
	m.active = nil
	m.mu.Unlock()

	if active != nil {
		active.engine.Close()
	}
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}
