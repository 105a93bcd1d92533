// Package audio handles decoding of uploaded audio into the engine's input shape.
// It parses PCM-16 WAV containers, falls back to raw PCM for containerless
// captures, and normalizes everything to mono float32 samples in [-1, 1].
package audio
