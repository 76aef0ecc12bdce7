// Package orchestrator turns a natural-language prompt into Luau, runs it in
// Studio through the dispatcher and formats the combined answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/studiobridge/internal/events"
	"github.com/mattjoyce/studiobridge/internal/generate"
	"github.com/mattjoyce/studiobridge/internal/history"
	"github.com/mattjoyce/studiobridge/internal/log"
	"github.com/mattjoyce/studiobridge/internal/protocol"
)

// ErrRunFailed wraps a failure of the Studio round trip.
var ErrRunFailed = errors.New("failed to run code")

// Options tune prompt handling.
type Options struct {
	// Label names the generator in the formatted answer.
	Label string
	// CodeFence is the language tag of the block to execute.
	CodeFence string
	// MaxContinuations bounds how many extra pages are fetched by cursor.
	MaxContinuations int
}

// Orchestrator serves /prompt and /run.
type Orchestrator struct {
	gen      Generator
	exec     Executor
	creds    Credentials
	recorder Recorder
	opts     Options
	hub      *events.Hub
	logger   *slog.Logger
	now      func() time.Time
}

// New wires an Orchestrator. recorder, hub and logger may be nil.
func New(gen Generator, exec Executor, creds Credentials, recorder Recorder, opts Options, hub *events.Hub, logger *slog.Logger) *Orchestrator {
	if opts.CodeFence == "" {
		opts.CodeFence = "luau"
	}
	if opts.Label == "" {
		opts.Label = "Model"
	}
	if logger == nil {
		logger = log.WithComponent("orchestrator")
	}
	return &Orchestrator{
		gen:      gen,
		exec:     exec,
		creds:    creds,
		recorder: recorder,
		opts:     opts,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
	}
}

// Prompt generates text for prompt. When the text contains a fenced code
// block it is run in Studio and the answer combines text and output;
// otherwise the text is returned as is.
func (o *Orchestrator) Prompt(ctx context.Context, prompt string) (string, error) {
	entry := history.Entry{Source: history.SourcePrompt, Prompt: prompt, CreatedAt: o.now()}
	o.hub.Publish(events.PromptReceived, map[string]any{"bytes": len(prompt)})

	answer, err := o.prompt(ctx, prompt, &entry)
	o.finish(ctx, &entry, err)
	if err != nil {
		return "", err
	}
	return answer, nil
}

func (o *Orchestrator) prompt(ctx context.Context, prompt string, entry *history.Entry) (string, error) {
	key, err := o.creds.APIKey()
	if err != nil {
		return "", err
	}

	text, err := o.generateAll(ctx, prompt, key)
	if err != nil {
		return "", err
	}
	entry.GeneratedText = text

	code, ok := ExtractCode(text, o.opts.CodeFence)
	o.hub.Publish(events.PromptGenerated, map[string]any{
		"bytes":    len(text),
		"has_code": ok,
	})
	if !ok {
		o.logger.Debug("generated text has no code block", "fence", o.opts.CodeFence)
		return text, nil
	}
	entry.Code = code

	out, err := o.exec.Execute(ctx, protocol.RunCode{Command: code})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRunFailed, err)
	}
	entry.Output = out
	return Format(o.opts.Label, text, out), nil
}

// Run executes command in Studio directly, with no generation step.
func (o *Orchestrator) Run(ctx context.Context, command string) (string, error) {
	entry := history.Entry{Source: history.SourceRun, Prompt: command, Code: command, CreatedAt: o.now()}

	out, err := o.exec.Execute(ctx, protocol.RunCode{Command: command})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRunFailed, err)
	}
	entry.Output = out
	o.finish(ctx, &entry, err)
	return out, err
}

// generateAll keeps requesting pages while the backend returns a cursor.
func (o *Orchestrator) generateAll(ctx context.Context, prompt, key string) (string, error) {
	var (
		sb     strings.Builder
		cursor string
	)
	for page := 0; ; page++ {
		if page > o.opts.MaxContinuations {
			return "", fmt.Errorf("%w: still returning a cursor after %d continuations", generate.ErrExternalAPI, o.opts.MaxContinuations)
		}
		res, err := o.gen.Generate(ctx, generate.Request{Prompt: prompt, Cursor: cursor, APIKey: key})
		if err != nil {
			return "", err
		}
		sb.WriteString(res.Text)
		if res.Cursor == "" {
			return sb.String(), nil
		}
		cursor = res.Cursor
	}
}

func (o *Orchestrator) finish(ctx context.Context, entry *history.Entry, err error) {
	done := o.now()
	entry.CompletedAt = &done
	if err != nil {
		entry.Error = err.Error()
		o.logger.Warn("request failed", "source", entry.Source, "error", err)
		o.hub.Publish(events.PromptFailed, map[string]any{"source": entry.Source, "error": err.Error()})
	} else {
		o.hub.Publish(events.PromptCompleted, map[string]any{
			"source":      entry.Source,
			"ran_code":    entry.Code != "",
			"duration_ms": done.Sub(entry.CreatedAt).Milliseconds(),
		})
	}

	if o.recorder == nil {
		return
	}
	// The request context may already be cancelled; history is still worth keeping.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := o.recorder.Record(rctx, *entry); rerr != nil {
		o.logger.Warn("failed to record history", "error", rerr)
	}
}

// ExtractCode returns the body of the first block opened with ```tag.
// Anything after the tag on the opening line is ignored, the fences are
// excluded and the body is trimmed. An unterminated block is not a match.
func ExtractCode(text, tag string) (string, bool) {
	open := "```" + tag
	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(open):]

	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Reject a longer tag such as ```luaurc.
		if info := rest[:nl]; info != "" && !isSpace(info[0]) {
			return ExtractCode(rest, tag)
		}
		rest = rest[nl+1:]
	} else {
		return "", false
	}

	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r'
}

// Format combines generated text and Studio output into the /prompt answer.
func Format(label, text, output string) string {
	return fmt.Sprintf("%s says:\n%s\n\nStudio output:\n%s", label, text, output)
}
