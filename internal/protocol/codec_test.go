package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestToolCallMarshalUsesExternallyTaggedArgs(t *testing.T) {
	id := uuid.MustParse("6f1c2a9e-3b7d-4c55-9a0e-1f2b3c4d5e6f")
	call := ToolCall{Args: RunCode{Command: "print(1)"}, ID: id}

	data, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	want := `{"args":{"RunCode":{"command":"print(1)"}},"id":"6f1c2a9e-3b7d-4c55-9a0e-1f2b3c4d5e6f"}`
	if string(data) != want {
		t.Fatalf("unexpected JSON\n got: %s\nwant: %s", data, want)
	}

	var back ToolCall
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	rc, ok := back.Args.(RunCode)
	if !ok {
		t.Fatalf("expected RunCode args, got %T", back.Args)
	}
	if rc.Command != "print(1)" || back.ID != id {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}

func TestToolCallWithoutIDMarshalsNull(t *testing.T) {
	data, err := json.Marshal(ToolCall{Args: RunCode{Command: "x"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"id":null`) {
		t.Fatalf("expected null id, got %s", data)
	}
}

func TestDecodeArgumentsRejectsUnknownVariant(t *testing.T) {
	_, err := DecodeArguments(json.RawMessage(`{"InsertModel":{"query":"car"}}`))
	if !errors.Is(err, ErrUnknownArguments) {
		t.Fatalf("expected ErrUnknownArguments, got %v", err)
	}

	_, err = DecodeArguments(json.RawMessage(`{}`))
	if !errors.Is(err, ErrUnknownArguments) {
		t.Fatalf("expected ErrUnknownArguments for empty object, got %v", err)
	}
}

func TestEncodeToolCallRequiresID(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeToolCall(&buf, ToolCall{Args: RunCode{Command: "x"}}); err == nil {
		t.Fatal("expected error for tool call without id")
	}
}

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "valid",
			input: `{"id":"6f1c2a9e-3b7d-4c55-9a0e-1f2b3c4d5e6f","response":"1"}`,
		},
		{
			name:    "missing id",
			input:   `{"response":"1"}`,
			wantErr: true,
		},
		{
			name:    "malformed id",
			input:   `{"id":"not-a-uuid","response":"1"}`,
			wantErr: true,
		},
		{
			name:    "unknown field",
			input:   `{"id":"6f1c2a9e-3b7d-4c55-9a0e-1f2b3c4d5e6f","response":"1","extra":true}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DecodeResult(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", res)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeResult: %v", err)
			}
			if res.Response != "1" {
				t.Fatalf("expected response 1, got %q", res.Response)
			}
		})
	}
}
