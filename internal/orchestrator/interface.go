package orchestrator

import (
	"context"

	"github.com/mattjoyce/studiobridge/internal/generate"
	"github.com/mattjoyce/studiobridge/internal/history"
	"github.com/mattjoyce/studiobridge/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks github.com/mattjoyce/studiobridge/internal/orchestrator Generator,Executor,Recorder,Credentials

// Generator produces text for a prompt, one page at a time.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (generate.Page, error)
}

// Executor runs tool arguments in Studio and returns the captured output.
type Executor interface {
	Execute(ctx context.Context, args protocol.Arguments) (string, error)
}

// Recorder stores a finished request.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Credentials supplies the generation API key.
type Credentials interface {
	APIKey() (string, error)
}
