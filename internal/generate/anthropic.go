package generate

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mattjoyce/studiobridge/internal/config"
)

// Anthropic uses the Messages API. It never returns a cursor.
type Anthropic struct {
	httpClient *http.Client
	cfg        config.GeneratorConfig
}

func NewAnthropic(cfg config.GeneratorConfig, httpClient *http.Client) *Anthropic {
	return &Anthropic{httpClient: httpClient, cfg: cfg}
}

func (a *Anthropic) Generate(ctx context.Context, req Request) (Page, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		option.WithHTTPClient(a.httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeoutOrDefault(a.cfg.Timeout)),
	}
	if a.cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(a.cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: anthropic.Model(a.cfg.Model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		MaxTokens:   int64(a.cfg.MaxOutputTokens),
		Temperature: anthropic.Float(a.cfg.Temperature),
	})
	if err != nil {
		return Page{}, fmt.Errorf("%w: anthropic: %w", ErrExternalAPI, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if sb.Len() == 0 {
		return Page{}, fmt.Errorf("%w: anthropic returned no text (stop reason %q)", ErrExternalAPI, resp.StopReason)
	}
	return Page{Text: sb.String()}, nil
}
