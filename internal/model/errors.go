package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotReady is returned when inference is requested while the model
// is loading, switching, or failed. Callers may retry later.
var ErrNotReady = errors.New("model not ready")

// ErrAlreadyLoaded is returned when a switch targets the active model
var ErrAlreadyLoaded = errors.New("model already loaded")

// ErrSwitchInProgress is returned when a switch is requested while a
// previous load has not finished. The new request is rejected, not queued.
var ErrSwitchInProgress = errors.New("model switch already in progress")

// UnknownModelError reports a requested model name outside the allow-list
type UnknownModelError struct {
	Name    string
	Allowed []string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model: %s (allowed: %s)", e.Name, strings.Join(e.Allowed, ", "))
}
