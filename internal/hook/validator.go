package hook

import (
	"context"
	"time"
)

// Validator is the interface every validation engine must implement.
// Implementations must be pure functions of the tool call plus their config
// (no hidden state), must respect context deadlines, and must never panic on
// malformed input.
type Validator interface {
	// Name returns the validator's unique identifier.
	Name() string

	// Handles reports whether this validator applies to the given tool type.
	Handles(t ToolType) bool

	// Essential validators run even at the basic validation level.
	Essential() bool

	// Heavy marks validators that are dropped below the standard level
	// unless they are also essential.
	Heavy() bool

	// Weight is this validator's share in the aggregate security score.
	Weight() float64

	// Timeout bounds a single Validate call.
	Timeout() time.Duration

	// Validate runs the validation logic against the given tool call.
	// Must respect ctx deadline. Return early if ctx is cancelled.
	Validate(ctx context.Context, call *ToolCall) (*ValidatorResult, error)
}

// BypassPredicate is an optional interface for validators with their own
// skip conditions (e.g. trusted-source reads, sandboxed commands). It is
// consulted after config-level disables and per-call metadata flags, in that
// order.
type BypassPredicate interface {
	// Bypass returns a human-readable reason and true when this validator
	// should be skipped for the call.
	Bypass(call *ToolCall) (string, bool)
}
