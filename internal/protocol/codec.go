package protocol

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// wireToolCall mirrors the JSON the plugin expects:
//
//	{"args":{"RunCode":{"command":"print(1)"}},"id":"<uuid>"}
type wireToolCall struct {
	Args json.RawMessage `json:"args"`
	ID   *uuid.UUID      `json:"id"`
}

// MarshalJSON encodes the call with externally tagged arguments.
func (c ToolCall) MarshalJSON() ([]byte, error) {
	args, err := EncodeArguments(c.Args)
	if err != nil {
		return nil, err
	}
	w := wireToolCall{Args: args}
	if c.ID != uuid.Nil {
		id := c.ID
		w.ID = &id
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the externally tagged form produced by MarshalJSON.
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var w wireToolCall
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	args, err := DecodeArguments(w.Args)
	if err != nil {
		return err
	}
	c.Args = args
	c.ID = uuid.Nil
	if w.ID != nil {
		c.ID = *w.ID
	}
	return nil
}

// EncodeArguments wraps a variant in a single-key object named by its tag.
func EncodeArguments(a Arguments) (json.RawMessage, error) {
	var body any
	switch v := a.(type) {
	case RunCode:
		body = v
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownArguments, a)
	}
	return json.Marshal(map[string]any{a.Kind(): body})
}

// DecodeArguments reverses EncodeArguments.
func DecodeArguments(raw json.RawMessage) (Arguments, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one variant, got %d", ErrUnknownArguments, len(tagged))
	}
	var (
		kind string
		body json.RawMessage
	)
	for k, v := range tagged {
		kind, body = k, v
	}

	switch kind {
	case KindRunCode:
		var rc RunCode
		if err := json.Unmarshal(body, &rc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownArguments, kind)
	}
}

// EncodeToolCall writes a single ToolCall as JSON to w.
func EncodeToolCall(w io.Writer, call ToolCall) error {
	if call.ID == uuid.Nil {
		return fmt.Errorf("tool call has no id")
	}
	if err := json.NewEncoder(w).Encode(call); err != nil {
		return fmt.Errorf("failed to encode tool call: %w", err)
	}
	return nil
}

// DecodeResult reads a Result posted by the plugin. Unknown fields and a
// missing id are rejected.
func DecodeResult(r io.Reader) (*Result, error) {
	var res Result

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if res.ID == uuid.Nil {
		return nil, fmt.Errorf("result missing required field: id")
	}
	return &res, nil
}
