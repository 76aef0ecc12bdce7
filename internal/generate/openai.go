package generate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mattjoyce/studiobridge/internal/config"
)

// OpenAI uses the Chat Completions API. It never returns a cursor.
type OpenAI struct {
	httpClient *http.Client
	cfg        config.GeneratorConfig
}

func NewOpenAI(cfg config.GeneratorConfig, httpClient *http.Client) *OpenAI {
	return &OpenAI{httpClient: httpClient, cfg: cfg}
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (Page, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		option.WithHTTPClient(o.httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeoutOrDefault(o.cfg.Timeout)),
	}
	if o.cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(o.cfg.Endpoint))
	}
	client := openai.NewClient(opts...)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature:         openai.Float(o.cfg.Temperature),
		TopP:                openai.Float(o.cfg.TopP),
		MaxCompletionTokens: openai.Int(int64(o.cfg.MaxOutputTokens)),
	})
	if err != nil {
		return Page{}, fmt.Errorf("%w: openai: %w", ErrExternalAPI, err)
	}
	if len(resp.Choices) == 0 {
		return Page{}, fmt.Errorf("%w: openai returned no choices", ErrExternalAPI)
	}
	return Page{Text: resp.Choices[0].Message.Content}, nil
}
