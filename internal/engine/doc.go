// Package engine defines the boundary to the speech-recognition engine.
// The real implementation is backed by whisper.cpp (build tag: whisper_cpp);
// without the tag a no-op stub keeps the service buildable without cgo.
package engine
