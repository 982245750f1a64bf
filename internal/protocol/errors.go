package protocol

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the protocol service cannot be reached
// after the configured retries.
var ErrUnavailable = errors.New("protocol service unavailable")

// ErrInvalidArgument is returned when tool arguments do not conform to the
// advertised input schema. The call never leaves the process.
var ErrInvalidArgument = errors.New("invalid tool arguments")

// ToolError carries the error payload of a tool call that reached the
// service but failed remotely. It is never retried.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Message)
}
