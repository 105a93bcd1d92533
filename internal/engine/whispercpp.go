//go:build whisper_cpp

package engine

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// whisperEngine wraps a whisper.cpp model handle
type whisperEngine struct {
	model whisper.Model
	name  string
}

// NewFactory returns a Factory that loads ggml model files from modelsDir.
// The compute profile selects the quantized model variant; quantization is
// baked into the ggml file itself, e.g. ggml-base-q5_1.bin.
func NewFactory(modelsDir string) Factory {
	return func(modelName, computeProfile string) (Engine, error) {
		path := filepath.Join(modelsDir, modelFile(modelName, computeProfile))

		model, err := whisper.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load whisper model %s: %w", path, err)
		}

		return &whisperEngine{model: model, name: modelName}, nil
	}
}

// modelFile maps a model name and compute profile to a ggml file name
func modelFile(name, compute string) string {
	if compute == "" || compute == "float32" {
		return "ggml-" + name + ".bin"
	}
	return fmt.Sprintf("ggml-%s-%s.bin", name, compute)
}

// Transcribe runs whisper.cpp over the samples and collects all segments
func (e *whisperEngine) Transcribe(samples []float32) (*Result, error) {
	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper context: %w", err)
	}

	wctx.SetTranslate(false)
	if err := wctx.SetLanguage("auto"); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper processing failed: %w", err)
	}

	var sb strings.Builder
	var segments []Segment
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read segment: %w", err)
		}

		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(strings.TrimSpace(segment.Text))

		segments = append(segments, Segment{
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
			Text:  strings.TrimSpace(segment.Text),
		})
	}

	return &Result{
		Text:     strings.TrimSpace(sb.String()),
		Language: wctx.Language(),
		Segments: segments,
	}, nil
}

// Close releases the whisper.cpp model
func (e *whisperEngine) Close() error {
	if e.model != nil {
		e.model.Close()
		e.model = nil
	}
	return nil
}
