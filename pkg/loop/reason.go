package loop

import (
	"fmt"

	"github.com/ternarybob/ralph/pkg/control"
)

// StopReason describes why a session was disabled.
type StopReason int

const (
	// StopManual means the operator sent a stop directive.
	StopManual StopReason = iota + 1
	// StopMaxIterations means the iteration budget is spent.
	StopMaxIterations
	// StopDone means the agent emitted the completion sentinel.
	StopDone
	// StopPromptUnreadable means the prompt file could not be read for the
	// next iteration.
	StopPromptUnreadable
)

// String returns the string representation.
func (r StopReason) String() string {
	switch r {
	case StopManual:
		return "manual"
	case StopMaxIterations:
		return "max_iterations"
	case StopDone:
		return "done"
	case StopPromptUnreadable:
		return "prompt_unreadable"
	default:
		return "unknown"
	}
}

// Describe returns the text shown to the operator.
func (r StopReason) Describe(maxIterations int) string {
	switch r {
	case StopManual:
		return "manual stop"
	case StopMaxIterations:
		return fmt.Sprintf("max iterations reached (%d)", maxIterations)
	case StopDone:
		return control.DoneToken
	case StopPromptUnreadable:
		return "prompt file unreadable"
	default:
		return r.String()
	}
}
