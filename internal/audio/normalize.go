package audio

import (
	"errors"
	"fmt"
)

// FallbackSampleRate is assumed when an upload carries no WAV container.
// The capture gateway streams raw PCM-16 frames at 24 kHz for low latency.
const FallbackSampleRate = 24000

// ErrDecode reports an upload that is neither a WAV container nor raw PCM-16
var ErrDecode = errors.New("undecodable audio")

// NormalizedAudio is mono float32 audio in [-1, 1] at a known sample rate
type NormalizedAudio struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the audio length in seconds
func (a *NormalizedAudio) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Normalize converts an uploaded byte buffer into NormalizedAudio.
// WAV containers are parsed for their declared rate and channel layout;
// anything unparseable is treated as raw PCM-16 mono at FallbackSampleRate.
// Multi-channel audio is downmixed by averaging channel values per frame.
func Normalize(raw []byte) (*NormalizedAudio, error) {
	if ValidateWAV(raw) == nil {
		if samples, info, err := DecodeWAV(raw); err == nil {
			return &NormalizedAudio{
				Samples:    downmix(pcm16ToFloat32(samples), info.Channels),
				SampleRate: info.SampleRate,
			}, nil
		}
	}

	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is neither WAV nor whole PCM-16 frames", ErrDecode, len(raw))
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}

	return &NormalizedAudio{
		Samples:    pcm16ToFloat32(samples),
		SampleRate: FallbackSampleRate,
	}, nil
}

// pcm16ToFloat32 scales signed 16-bit samples into [-1, 1]
func pcm16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// downmix averages interleaved channel values per frame into mono.
// A trailing partial frame is dropped.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
