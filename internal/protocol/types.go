package protocol

import (
	"errors"

	"github.com/google/uuid"
)

// KindRunCode is the wire tag of the RunCode variant.
const KindRunCode = "RunCode"

// ErrUnknownArguments is returned when a ToolCall carries an argument variant
// this build does not know how to encode or decode.
var ErrUnknownArguments = errors.New("unknown tool call arguments")

// Arguments is the closed set of operations the Studio plugin can perform.
// Only types in this package implement it; switch on the concrete type to
// handle each variant.
type Arguments interface {
	// Kind returns the wire tag of the variant.
	Kind() string
	isArguments()
}

// RunCode asks the plugin to execute a chunk of Luau source.
type RunCode struct {
	Command string `json:"command"`
}

func (RunCode) Kind() string { return KindRunCode }
func (RunCode) isArguments() {}

// ToolCall is the unit of work handed to the plugin by GET /request.
// ID is uuid.Nil until the dispatcher assigns one at enqueue time.
type ToolCall struct {
	Args Arguments
	ID   uuid.UUID
}

// Result is the body the plugin posts to /response once a ToolCall has run.
type Result struct {
	ID       uuid.UUID `json:"id"`
	Response string    `json:"response"`
}
