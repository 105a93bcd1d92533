package model

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prabhanshu11/omarchy-voice-typing/internal/audio"
)

// warmupSampleRate matches the engine's native input rate; one second of
// silence is enough to trigger one-time kernel initialization.
const warmupSampleRate = 16000

// WarmupRunner performs a single throwaway inference after the first
// successful load, so the first real request does not pay the engine's
// one-time initialization cost. It runs at most once per process.
type WarmupRunner struct {
	logger *slog.Logger
	once   sync.Once
}

// NewWarmupRunner creates a warmup runner
func NewWarmupRunner(logger *slog.Logger) *WarmupRunner {
	return &WarmupRunner{logger: logger}
}

// Run schedules the warmup inference in the background. Subsequent calls
// are no-ops, including after a model switch.
func (w *WarmupRunner) Run(m *Manager) {
	w.once.Do(func() {
		m.wg.Add(1)
		go w.run(m)
	})
}

func (w *WarmupRunner) run(m *Manager) {
	defer m.wg.Done()

	// If a switch or failure beat us here, skip rather than retry; the
	// next real request absorbs the same cost.
	if status := m.CurrentStatus(); status.State != StateReady {
		w.logger.Info("skipping warmup, model no longer ready",
			slog.String("status", string(status.State)),
		)
		return
	}

	silence := &audio.NormalizedAudio{
		Samples:    make([]float32, warmupSampleRate),
		SampleRate: warmupSampleRate,
	}

	w.logger.Info("warming up model")
	start := time.Now()

	if _, err := m.RunInference(m.ctx, silence); err != nil {
		w.logger.Warn("warmup inference failed", slog.String("error", err.Error()))
		return
	}

	w.logger.Info("warmup complete", slog.Duration("elapsed", time.Since(start)))
}
