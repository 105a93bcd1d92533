// Package config loads and validates the sidecar configuration from an
// optional YAML file with environment variable overrides.
package config
