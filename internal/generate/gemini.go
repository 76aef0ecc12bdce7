package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mattjoyce/studiobridge/internal/config"
)

// maxErrorBody caps how much of a failed response is read for the message.
const maxErrorBody = 64 * 1024

// Gemini calls the generateContent endpoint of the Gemini API.
type Gemini struct {
	httpClient *http.Client
	endpoint   string
	model      string
	generation geminiGenerationConfig
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	Cursor           string                 `json:"cursor,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

func NewGemini(cfg config.GeneratorConfig, httpClient *http.Client) *Gemini {
	return &Gemini{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		generation: geminiGenerationConfig{
			Temperature:     cfg.Temperature,
			TopK:            cfg.TopK,
			TopP:            cfg.TopP,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
	}
}

func (g *Gemini) url() string {
	return g.endpoint + "/models/" + url.PathEscape(g.model) + ":generateContent"
}

func (g *Gemini) Generate(ctx context.Context, req Request) (Page, error) {
	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: g.generation,
		Cursor:           req.Cursor,
	})
	if err != nil {
		return Page{}, fmt.Errorf("marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url(), bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("%w: build request: %w", ErrExternalAPI, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.APIKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Page{}, fmt.Errorf("%w: gemini request: %w", ErrExternalAPI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, readGeminiError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("%w: read gemini response: %w", ErrExternalAPI, err)
	}
	return decodeGeminiPage(data)
}

func decodeGeminiPage(data []byte) (Page, error) {
	if !gjson.ValidBytes(data) {
		return Page{}, fmt.Errorf("%w: gemini returned invalid JSON", ErrExternalAPI)
	}
	doc := gjson.ParseBytes(data)

	candidate := doc.Get("candidates.0")
	if !candidate.Exists() {
		if reason := doc.Get("promptFeedback.blockReason").String(); reason != "" {
			return Page{}, fmt.Errorf("%w: prompt blocked: %s", ErrExternalAPI, reason)
		}
		return Page{}, fmt.Errorf("%w: gemini returned no candidates", ErrExternalAPI)
	}

	parts := candidate.Get("content.parts.#.text").Array()
	if len(parts) == 0 {
		reason := candidate.Get("finishReason").String()
		return Page{}, fmt.Errorf("%w: gemini candidate has no text (finish reason %q)", ErrExternalAPI, reason)
	}

	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.String())
	}
	return Page{
		Text:   sb.String(),
		Cursor: candidate.Get("cursor").String(),
	}, nil
}

// readGeminiError turns a non-200 response into an ErrExternalAPI, using the
// API's error.message when present.
func readGeminiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := gjson.GetBytes(data, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%w: gemini HTTP %d: %s", ErrExternalAPI, resp.StatusCode, msg)
}
