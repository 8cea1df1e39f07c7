package eventmux

import (
	"fmt"
	"time"
)

// TimeoutError indicates a handler did not resolve an outcome before
// the DispatchSync deadline. The handler's invocation is not force-
// killed; only the observation of its outcome is abandoned.
type TimeoutError struct {
	Handler string
	After   time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("handler %s timed out after %s", e.Handler, e.After)
}

// ConfigError indicates invalid dispatch options. It is returned
// before any handler is invoked.
type ConfigError struct {
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "dispatch config: " + e.Message
}
