// Package model owns the single active speech-recognition engine instance.
// It implements the load/ready/switch state machine, serializes inference so
// at most one runs at a time, and hands completed loads back over a channel
// so the active engine is only ever swapped under the inference lock.
package model
