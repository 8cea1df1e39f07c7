package eventmux

import "time"

// Status classifies a per-handler delivery outcome.
type Status string

// Outcome status constants.
const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Outcome is the result of delivering one event to one handler.
//
// For function and method handlers the outcome reflects the invocation
// itself. For actor handlers it reflects mailbox delivery only:
// fire-and-forget sends resolve immediately and carry no processing
// confirmation.
type Outcome struct {
	Status   Status
	Err      error // *handler.HandlerError, *handler.DeadHandlerError, or *TimeoutError
	Duration time.Duration
}

// OK reports whether the delivery succeeded.
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// TimeoutPolicy controls how timed-out handlers appear in a
// DispatchSync result map.
type TimeoutPolicy string

// Timeout policy constants.
const (
	// TimeoutIncludeError records timed-out handlers as error entries.
	TimeoutIncludeError TimeoutPolicy = "include_error"

	// TimeoutOmit drops timed-out handlers from the result map.
	TimeoutOmit TimeoutPolicy = "omit"
)
