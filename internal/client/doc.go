// Package client implements a typed HTTP client for the sidecar API.
// It is used by the transcribe CLI and by calling gateways that prefer a
// Go API over hand-rolled HTTP requests.
package client
