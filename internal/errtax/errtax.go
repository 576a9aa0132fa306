// Package errtax implements the error taxonomy of spec §7: a closed class
// enum plus a wrapping error type that carries structured context across
// layer boundaries. No untyped errors are meant to cross a component
// boundary in this codebase — capability adapters translate underlying
// failures into a Class at construction time.
package errtax

import "fmt"

// Class is the top-level error taxonomy.
type Class string

const (
	// Validation is ill-formed input or a schema-invalid artifact. Not
	// retried; surfaces to the user with a specific pointer.
	Validation Class = "validation"
	// Transient is a timeout, rate-limit, or network failure. Recovery level 1.
	Transient Class = "transient"
	// Tool is a deterministic subprocess/capability failure. See ToolSubclass
	// for the finer-grained routing.
	Tool Class = "tool"
	// Content is an artifact rejected by QA. Handled by the reflection loop,
	// not the recovery chain, unless reflection itself cannot make progress.
	Content Class = "content"
	// Resource is insufficient memory/disk/thermal headroom. Level 6.
	Resource Class = "resource"
	// Fatal is source-unreachable, workspace-unwritable, or state-store
	// corruption. Level 6 immediately.
	Fatal Class = "fatal"
)

// ToolSubclass further classifies Tool errors for recovery-level routing.
type ToolSubclass string

const (
	ParseError            ToolSubclass = "parse_error"            // starts at level 2
	CapabilityUnavailable ToolSubclass = "capability_unavailable" // starts at level 1, climbs to backend-swap at level 4
	QuotaExceeded         ToolSubclass = "quota_exceeded"         // starts at level 5
)

// Error wraps an underlying error with its taxonomy classification and
// optional structured context.
type Error struct {
	Class        Class
	ToolSubclass ToolSubclass // only meaningful when Class == Tool
	Stage        string
	Prescriptive string
	Err          error
}

func (e *Error) Error() string {
	if e.ToolSubclass != "" {
		return fmt.Sprintf("%s/%s at stage %s: %v", e.Class, e.ToolSubclass, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s at stage %s: %v", e.Class, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(class Class, stage string, err error) *Error {
	return &Error{Class: class, Stage: stage, Err: err}
}

// NewTool constructs a classified Tool error with a subclass.
func NewTool(subclass ToolSubclass, stage string, err error) *Error {
	return &Error{Class: Tool, ToolSubclass: subclass, Stage: stage, Err: err}
}

// StartingLevel maps an error's classification to the recovery ladder rung
// it should enter at. Resource and Fatal jump directly to level 6 (§4.9).
func (e *Error) StartingLevel() int {
	switch e.Class {
	case Resource, Fatal:
		return 6
	case Tool:
		switch e.ToolSubclass {
		case QuotaExceeded:
			return 5
		case ParseError:
			return 2
		default:
			// CapabilityUnavailable climbs the ladder from the bottom too, so
			// a backend-unavailable error gets its shot at retry/fork/fresh
			// before backend-swap (level 4) is tried (§8 scenario S6).
			return 1
		}
	case Transient:
		return 1
	default:
		return 1
	}
}

// Retryable reports whether this error class is ever eligible for the
// recovery chain at all (Validation is not — it is handled by its upstream
// layer; every other class, Content included, is eligible).
func (e *Error) Retryable() bool {
	return e.Class != Validation
}
