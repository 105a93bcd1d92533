// Package server implements the HTTP control surface of the sidecar:
// transcription, health, and model switching endpoints, plus Prometheus
// metrics. Handlers never block request acceptance on a model load.
package server
