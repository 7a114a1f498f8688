package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/record"
	"github.com/logsift/logsift/internal/redact"
)

const recognizePrompt = `You are a PII detector for banking logs. ` +
	`Given one log line, return ONLY a JSON array of entities you find, ` +
	`each as {"entity": "KIND", "start": byteOffset, "end": byteOffset}. ` +
	`Use kinds like PERSON, ORG, LOCATION, DATE. Return [] when nothing is found.`

const enrichPrompt = `You are a log analyst. Summarize the following sanitized ` +
	`banking log record in one short sentence. Do not invent values.`

// OllamaCapability implements Recognizer and Enricher against a local
// Ollama server. Every call is bounded by the configured timeout; a
// timed-out call returns an error and the caller degrades that record.
type OllamaCapability struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOllama creates the capability from configuration. If cfg.Host is
// empty the OLLAMA_HOST environment variable is honored.
func NewOllama(cfg config.RecognizerConfig, logger zerolog.Logger) (*OllamaCapability, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if cfg.Host != "" {
		parsed, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host: %w", err)
		}
		client = api.NewClient(parsed, http.DefaultClient)
	}

	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}

	return &OllamaCapability{
		client:  client,
		model:   model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Heartbeat checks that the model server is reachable.
func (o *OllamaCapability) Heartbeat(ctx context.Context) error {
	ctx, cancel := o.bound(ctx)
	defer cancel()
	if _, err := o.client.Version(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Recognize implements redact.Recognizer.
func (o *OllamaCapability) Recognize(ctx context.Context, text string) ([]redact.Span, error) {
	content, err := o.chat(ctx, recognizePrompt, text)
	if err != nil {
		return nil, err
	}
	return parseSpans(content)
}

// Enrich implements Enricher, producing a one-line summary annotation.
func (o *OllamaCapability) Enrich(ctx context.Context, rec record.Record) (Annotations, error) {
	serialized, err := rec.MarshalBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize record: %w", err)
	}

	content, err := o.chat(ctx, enrichPrompt, string(serialized))
	if err != nil {
		return nil, err
	}
	return Annotations{"summary": strings.TrimSpace(content)}, nil
}

func (o *OllamaCapability) chat(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := o.bound(ctx)
	defer cancel()

	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Options: map[string]any{"temperature": 0},
		Stream:  new(bool), // complete response, no streaming
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return response.Message.Content, nil
}

func (o *OllamaCapability) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

// parseSpans extracts the JSON span array from a model response. Models
// occasionally wrap the array in prose; only the bracketed portion is
// parsed.
func parseSpans(content string) ([]redact.Span, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON array in response", ErrInvalidResponse)
	}

	var raw []struct {
		Entity string `json:"entity"`
		Start  int    `json:"start"`
		End    int    `json:"end"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	spans := make([]redact.Span, 0, len(raw))
	for _, s := range raw {
		if s.Entity == "" || s.End <= s.Start {
			continue
		}
		spans = append(spans, redact.Span{Entity: s.Entity, Start: s.Start, End: s.End})
	}
	return spans, nil
}
