package engine

// Segment is one timed span of decoded text
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the raw output of one inference call
type Result struct {
	Text     string
	Language string
	Segments []Segment
}

// Engine is the narrow surface the service needs from a loaded model.
// Implementations are not required to be safe for concurrent Transcribe
// calls; the model manager serializes access.
type Engine interface {
	// Transcribe runs inference over mono float32 samples in [-1, 1].
	Transcribe(samples []float32) (*Result, error)

	// Close releases the engine's resources. The manager guarantees no
	// inference references the engine once Close is called.
	Close() error
}

// Factory constructs an engine for a model name and compute profile.
// Construction may take tens of seconds; no timeout is imposed here.
type Factory func(modelName, computeProfile string) (Engine, error)
