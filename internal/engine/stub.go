//go:build !whisper_cpp

package engine

// Default stub (no cgo) so the service builds without the whisper_cpp tag.
// Inference returns empty text, which downstream code must tolerate anyway
// for silent audio.
type stubEngine struct {
	name string
}

// NewFactory returns a Factory producing stub engines. modelsDir is ignored.
func NewFactory(modelsDir string) Factory {
	return func(modelName, computeProfile string) (Engine, error) {
		return &stubEngine{name: modelName}, nil
	}
}

func (e *stubEngine) Transcribe(samples []float32) (*Result, error) {
	return &Result{Language: "en"}, nil
}

func (e *stubEngine) Close() error { return nil }
