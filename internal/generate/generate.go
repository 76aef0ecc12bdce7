// Package generate talks to the text-generation APIs behind POST /prompt.
//
// Every backend returns text in pages. Gemini may hand back a continuation
// cursor; the orchestrator keeps calling with it until no cursor is left.
// The OpenAI and Anthropic backends always return a single page.
package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/studiobridge/internal/config"
)

var (
	// ErrExternalAPI wraps any failure reported by, or while reaching, the
	// generation backend.
	ErrExternalAPI = errors.New("external api error")

	// ErrMissingCredential is returned when the API key variable is unset.
	ErrMissingCredential = errors.New("api key not set")
)

// Request is a single generation call.
type Request struct {
	Prompt string
	// Cursor continues a previous page; empty for the first call.
	Cursor string
	APIKey string
}

// Page is one chunk of generated text.
type Page struct {
	Text string
	// Cursor is non-empty when more text is available.
	Cursor string
}

// Client is implemented by each backend.
type Client interface {
	Generate(ctx context.Context, req Request) (Page, error)
}

// New builds the backend selected by cfg.Provider. httpClient may be nil.
func New(cfg config.GeneratorConfig, httpClient *http.Client) (Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGemini(cfg, httpClient), nil
	case config.ProviderOpenAI:
		return NewOpenAI(cfg, httpClient), nil
	case config.ProviderAnthropic:
		return NewAnthropic(cfg, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}

// EnvCredential reads the API key from the named environment variable on
// every call, so a key exported after startup is picked up.
type EnvCredential string

func (e EnvCredential) APIKey() (string, error) {
	v := strings.TrimSpace(os.Getenv(string(e)))
	if v == "" {
		return "", fmt.Errorf("%w: $%s", ErrMissingCredential, string(e))
	}
	return v, nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 2 * time.Minute
	}
	return d
}
