package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prabhanshu11/omarchy-voice-typing/internal/audio"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/engine"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/metrics"
)

// Shared across tests: promauto metrics register once per process
var testMetrics = metrics.NewMetrics()

type fakeEngine struct {
	name   string
	delay  time.Duration
	err    error
	closed atomic.Bool

	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
	lastLen  atomic.Int32
}

func (e *fakeEngine) Transcribe(samples []float32) (*engine.Result, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	e.calls.Add(1)
	e.lastLen.Store(int32(len(samples)))

	for {
		seen := e.maxSeen.Load()
		if n <= seen || e.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	if e.err != nil {
		return nil, e.err
	}

	return &engine.Result{Text: "from " + e.name, Language: "en"}, nil
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, factory engine.Factory) *Manager {
	t.Helper()

	mgr, err := NewManager(testLogger(), testMetrics, ManagerConfig{
		DefaultModel:   "base",
		ComputeProfile: "int8_float32",
		AllowedModels:  []string{"distil-large-v3", "base"},
		Factory:        factory,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Close)
	return mgr
}

func waitForState(t *testing.T, mgr *Manager, want State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.CurrentStatus().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Manager never reached state %q, status: %v", want, mgr.CurrentStatus())
}

func oneSecondSilence() *audio.NormalizedAudio {
	return &audio.NormalizedAudio{
		Samples:    make([]float32, 16000),
		SampleRate: 16000,
	}
}

func TestNewManagerValidation(t *testing.T) {
	factory := func(string, string) (engine.Engine, error) { return &fakeEngine{}, nil }

	tests := []struct {
		name string
		cfg  ManagerConfig
	}{
		{
			name: "nil factory",
			cfg:  ManagerConfig{DefaultModel: "base", AllowedModels: []string{"base"}},
		},
		{
			name: "empty allow-list",
			cfg:  ManagerConfig{DefaultModel: "base", Factory: factory},
		},
		{
			name: "empty default model",
			cfg:  ManagerConfig{AllowedModels: []string{"base"}, Factory: factory},
		},
		{
			name: "default model not allowed",
			cfg:  ManagerConfig{DefaultModel: "tiny", AllowedModels: []string{"base"}, Factory: factory},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(testLogger(), testMetrics, tt.cfg); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestInitialStatus(t *testing.T) {
	mgr := newTestManager(t, func(string, string) (engine.Engine, error) {
		return &fakeEngine{}, nil
	})

	status := mgr.CurrentStatus()
	if status.State != StateLoading {
		t.Errorf("Expected initial state loading, got %q", status.State)
	}

	if status.Model != "base" {
		t.Errorf("Expected configured default model before first load, got %q", status.Model)
	}
}

func TestAllowedModelsSorted(t *testing.T) {
	mgr := newTestManager(t, func(string, string) (engine.Engine, error) {
		return &fakeEngine{}, nil
	})

	allowed := mgr.AllowedModels()
	if len(allowed) != 2 || allowed[0] != "base" || allowed[1] != "distil-large-v3" {
		t.Errorf("Expected sorted allow-list [base distil-large-v3], got %v", allowed)
	}
}

func TestRequestLoadUnknownModel(t *testing.T) {
	var calls atomic.Int32
	mgr := newTestManager(t, func(string, string) (engine.Engine, error) {
		calls.Add(1)
		return &fakeEngine{}, nil
	})

	err := mgr.RequestLoad("large-v3")

	var unknown *UnknownModelError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownModelError, got %v", err)
	}

	if unknown.Name != "large-v3" {
		t.Errorf("Expected error to name large-v3, got %q", unknown.Name)
	}

	if len(unknown.Allowed) != 2 {
		t.Errorf("Expected allow-list in error, got %v", unknown.Allowed)
	}

	if calls.Load() != 0 {
		t.Error("Factory must not be called for an unknown model")
	}

	if mgr.CurrentStatus().State != StateLoading {
		t.Errorf("State changed by rejected load: %v", mgr.CurrentStatus())
	}
}

func TestFirstLoadBecomesReady(t *testing.T) {
	mgr := newTestManager(t, func(name, profile string) (engine.Engine, error) {
		if profile != "int8_float32" {
			return nil, fmt.Errorf("unexpected compute profile %q", profile)
		}
		return &fakeEngine{name: name}, nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	status := mgr.CurrentStatus()
	if status.Model != "base" {
		t.Errorf("Expected active model base, got %q", status.Model)
	}
}

func TestRunInferenceNotReady(t *testing.T) {
	mgr := newTestManager(t, func(string, string) (engine.Engine, error) {
		return &fakeEngine{}, nil
	})

	_, err := mgr.RunInference(context.Background(), oneSecondSilence())
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady, got %v", err)
	}
}

func TestRunInferenceResult(t *testing.T) {
	mgr := newTestManager(t, func(name, _ string) (engine.Engine, error) {
		return &fakeEngine{name: name}, nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	result, err := mgr.RunInference(context.Background(), oneSecondSilence())
	if err != nil {
		t.Fatalf("RunInference failed: %v", err)
	}

	if result.Text != "from base" {
		t.Errorf("Expected engine output, got %q", result.Text)
	}

	if result.ModelName != "base" {
		t.Errorf("Expected model name base, got %q", result.ModelName)
	}

	if result.AudioSeconds != 1.0 {
		t.Errorf("Expected 1.0 audio seconds, got %v", result.AudioSeconds)
	}
}

func TestSwitchSwapsEngineAndClosesPrevious(t *testing.T) {
	engines := map[string]*fakeEngine{
		"base":            {name: "base"},
		"distil-large-v3": {name: "distil-large-v3"},
	}
	mgr := newTestManager(t, func(name, _ string) (engine.Engine, error) {
		return engines[name], nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	if err := mgr.RequestLoad("distil-large-v3"); err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	result, err := mgr.RunInference(context.Background(), oneSecondSilence())
	if err != nil {
		t.Fatalf("RunInference failed: %v", err)
	}

	if result.ModelName != "distil-large-v3" {
		t.Errorf("Expected new model serving, got %q", result.ModelName)
	}

	// Previous engine is released once nothing references it
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !engines["base"].closed.Load() {
		time.Sleep(5 * time.Millisecond)
	}
	if !engines["base"].closed.Load() {
		t.Error("Previous engine was never closed after switch")
	}
}

func TestSwitchAlreadyLoaded(t *testing.T) {
	mgr := newTestManager(t, func(name, _ string) (engine.Engine, error) {
		return &fakeEngine{name: name}, nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	if err := mgr.RequestLoad("base"); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("Expected ErrAlreadyLoaded, got %v", err)
	}

	if mgr.CurrentStatus().State != StateReady {
		t.Errorf("State changed by already-loaded request: %v", mgr.CurrentStatus())
	}
}

func TestSwitchWhileSwitchingRejected(t *testing.T) {
	release := make(chan struct{})
	mgr := newTestManager(t, func(name, _ string) (engine.Engine, error) {
		<-release
		return &fakeEngine{name: name}, nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}

	if err := mgr.RequestLoad("distil-large-v3"); !errors.Is(err, ErrSwitchInProgress) {
		t.Errorf("Expected ErrSwitchInProgress, got %v", err)
	}

	close(release)
	waitForState(t, mgr, StateReady)

	// The second request was rejected, not queued
	if got := mgr.CurrentStatus().Model; got != "base" {
		t.Errorf("Expected base active, got %q", got)
	}
}

func TestFailedLoadKeepsPreviousModelResident(t *testing.T) {
	var fail atomic.Bool
	baseEngine := &fakeEngine{name: "base"}
	mgr := newTestManager(t, func(name, _ string) (engine.Engine, error) {
		if fail.Load() {
			return nil, fmt.Errorf("out of GPU memory")
		}
		return baseEngine, nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	fail.Store(true)
	if err := mgr.RequestLoad("distil-large-v3"); err != nil {
		t.Fatalf("Switch request failed: %v", err)
	}
	waitForState(t, mgr, StateFailed)

	// Inference is refused while failed
	if _, err := mgr.RunInference(context.Background(), oneSecondSilence()); !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady while failed, got %v", err)
	}

	// The previous engine was not torn down
	if baseEngine.closed.Load() {
		t.Error("Previous engine must stay resident after a failed switch")
	}

	// Recovery: re-request the resident model
	fail.Store(false)
	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("Recovery load failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	result, err := mgr.RunInference(context.Background(), oneSecondSilence())
	if err != nil {
		t.Fatalf("RunInference after recovery failed: %v", err)
	}
	if result.ModelName != "base" {
		t.Errorf("Expected base serving after recovery, got %q", result.ModelName)
	}
}

func TestFirstLoadFailure(t *testing.T) {
	mgr := newTestManager(t, func(string, string) (engine.Engine, error) {
		return nil, fmt.Errorf("model file missing")
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateFailed)

	status := mgr.CurrentStatus()
	if status.Model != "base" {
		t.Errorf("Expected default model name in failed status, got %q", status.Model)
	}
}

func TestInferenceNeverConcurrent(t *testing.T) {
	eng := &fakeEngine{name: "base", delay: 10 * time.Millisecond}
	mgr := newTestManager(t, func(string, string) (engine.Engine, error) {
		return eng, nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.RunInference(context.Background(), oneSecondSilence()); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d inference calls failed", failures.Load())
	}

	if max := eng.maxSeen.Load(); max > 1 {
		t.Errorf("Observed %d concurrent inference calls, want at most 1", max)
	}
}

func TestRunInferenceContextCancelled(t *testing.T) {
	eng := &fakeEngine{name: "base", delay: 100 * time.Millisecond}
	mgr := newTestManager(t, func(string, string) (engine.Engine, error) {
		return eng, nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	// Occupy the inference slot
	started := make(chan struct{})
	go func() {
		close(started)
		mgr.RunInference(context.Background(), oneSecondSilence())
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := mgr.RunInference(ctx, oneSecondSilence()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled while slot is held, got %v", err)
	}
}

func TestStatusDuringSwitch(t *testing.T) {
	release := make(chan struct{})
	first := true
	mgr := newTestManager(t, func(name, _ string) (engine.Engine, error) {
		if !first {
			<-release
		}
		first = false
		return &fakeEngine{name: name}, nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	if err := mgr.RequestLoad("distil-large-v3"); err != nil {
		t.Fatalf("Switch request failed: %v", err)
	}

	status := mgr.CurrentStatus()
	if status.State != StateSwitching {
		t.Errorf("Expected switching state, got %q", status.State)
	}

	// The old model name is still reported while the new one loads
	if status.Model != "base" {
		t.Errorf("Expected base reported during switch, got %q", status.Model)
	}

	close(release)
	waitForState(t, mgr, StateReady)
}

func waitForCalls(t *testing.T, eng *fakeEngine, want int32) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.calls.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Engine never reached %d calls, got %d", want, eng.calls.Load())
}

func TestWarmupRunsOncePerProcess(t *testing.T) {
	engines := map[string]*fakeEngine{
		"base":            {name: "base"},
		"distil-large-v3": {name: "distil-large-v3"},
	}
	mgr := newTestManager(t, func(name, _ string) (engine.Engine, error) {
		return engines[name], nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	// The first readiness triggers exactly one synthetic inference of
	// one second of silence at the engine's native rate
	waitForCalls(t, engines["base"], 1)

	if got := engines["base"].lastLen.Load(); got != warmupSampleRate {
		t.Errorf("Expected %d warmup samples, got %d", warmupSampleRate, got)
	}

	if err := mgr.RequestLoad("distil-large-v3"); err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	waitForState(t, mgr, StateReady)

	// A later switch must not warm up again
	time.Sleep(50 * time.Millisecond)
	if got := engines["distil-large-v3"].calls.Load(); got != 0 {
		t.Errorf("Expected no warmup after switch, engine saw %d calls", got)
	}

	if total := engines["base"].calls.Load() + engines["distil-large-v3"].calls.Load(); total != 1 {
		t.Errorf("Expected exactly 1 inference across the process, got %d", total)
	}
}

func TestWarmupSkippedWhenNoLongerReady(t *testing.T) {
	eng := &fakeEngine{name: "base"}
	mgr := newTestManager(t, func(string, string) (engine.Engine, error) {
		return eng, nil
	})

	if err := mgr.RequestLoad("base"); err != nil {
		t.Fatalf("RequestLoad failed: %v", err)
	}
	waitForState(t, mgr, StateReady)
	waitForCalls(t, eng, 1)

	// Simulate a switch starting between scheduling and execution: a
	// fresh runner firing after the state left ready must do nothing
	mgr.mu.Lock()
	mgr.state = StateSwitching
	mgr.mu.Unlock()

	before := eng.calls.Load()
	runner := NewWarmupRunner(testLogger())
	runner.Run(mgr)

	time.Sleep(50 * time.Millisecond)
	if got := eng.calls.Load(); got != before {
		t.Errorf("Warmup ran while not ready: %d calls, want %d", got, before)
	}

	mgr.mu.Lock()
	mgr.state = StateReady
	mgr.mu.Unlock()
}
