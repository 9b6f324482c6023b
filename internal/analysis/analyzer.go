// Package analysis runs the document/image analysis cycle dispatched from
// ingress and records its outcome in the processing state store.
package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	EnvAPIKey         = "HANDOFF_ANALYSIS_API_KEY"
	EnvBaseURL        = "HANDOFF_ANALYSIS_BASE_URL"
	EnvModel          = "HANDOFF_ANALYSIS_MODEL"
	EnvTimeoutMS      = "HANDOFF_ANALYSIS_TIMEOUT_MS"
	EnvMaxImageBytes  = "HANDOFF_ANALYSIS_MAX_IMAGE_BYTES"
	EnvMaxTotalBytes  = "HANDOFF_ANALYSIS_MAX_TOTAL_BYTES"
	EnvSystemPrompt   = "HANDOFF_ANALYSIS_SYSTEM_PROMPT"
	defaultModel      = "gpt-4o-mini"
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2

	defaultMaxImageBytes = int64(8 << 20)
	defaultMaxTotalBytes = int64(24 << 20)

	defaultSystemPrompt = "Extract the findings from the attached medical report or prescription. " +
		"Respond with concise JSON: {\"summary\": string, \"items\": [string]}."
)

// Attachment is one inbound media item to analyze.
type Attachment struct {
	MIME string
	Data []byte
}

// Request is one analysis invocation.
type Request struct {
	Identity    string
	Prompt      string
	Attachments []Attachment
}

// Result is the analyzer output recorded as the COMPLETED payload.
type Result struct {
	Summary json.RawMessage
}

// Analyzer produces a result for an inbound document/image event.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}

// Config holds OpenAI-compatible analyzer settings.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	SystemPrompt  string
	Timeout       time.Duration
	MaxImageBytes int64
	MaxTotalBytes int64
}

// ConfigFromEnv loads analyzer settings from HANDOFF_ANALYSIS_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		APIKey:        strings.TrimSpace(os.Getenv(EnvAPIKey)),
		BaseURL:       strings.TrimSpace(os.Getenv(EnvBaseURL)),
		Model:         defaultString(strings.TrimSpace(os.Getenv(EnvModel)), defaultModel),
		SystemPrompt:  defaultString(strings.TrimSpace(os.Getenv(EnvSystemPrompt)), defaultSystemPrompt),
		Timeout:       defaultTimeout,
		MaxImageBytes: defaultMaxImageBytes,
		MaxTotalBytes: defaultMaxTotalBytes,
	}
	if raw := strings.TrimSpace(os.Getenv(EnvTimeoutMS)); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvTimeoutMS, err)
		}
		cfg.Timeout = time.Duration(v) * time.Millisecond
	}
	if raw := strings.TrimSpace(os.Getenv(EnvMaxImageBytes)); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvMaxImageBytes, err)
		}
		cfg.MaxImageBytes = v
	}
	if raw := strings.TrimSpace(os.Getenv(EnvMaxTotalBytes)); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvMaxTotalBytes, err)
		}
		cfg.MaxTotalBytes = v
	}
	return cfg, cfg.Validate()
}

// Validate enforces analyzer config invariants.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("analysis api_key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("analysis model is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("analysis timeout must be >0")
	}
	if c.MaxImageBytes <= 0 || c.MaxTotalBytes < c.MaxImageBytes {
		return fmt.Errorf("analysis byte caps are inconsistent")
	}
	return nil
}

// OpenAIAnalyzer calls an OpenAI-compatible multimodal chat endpoint.
type OpenAIAnalyzer struct {
	cfg    Config
	client openaigo.Client
}

// NewOpenAIAnalyzer constructs an analyzer from config.
func NewOpenAIAnalyzer(cfg Config) (*OpenAIAnalyzer, error) {
	return NewOpenAIAnalyzerWithHTTPClient(cfg, nil)
}

// NewOpenAIAnalyzerWithHTTPClient allows tests to inject a transport.
func NewOpenAIAnalyzerWithHTTPClient(cfg Config, httpClient *http.Client) (*OpenAIAnalyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(defaultMaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	return &OpenAIAnalyzer{cfg: cfg, client: openaigo.NewClient(opts...)}, nil
}

// Analyze sends the prompt and image attachments as one multimodal turn.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req Request) (Result, error) {
	parts, err := a.buildContentParts(req)
	if err != nil {
		return Result{}, err
	}

	completion, err := a.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(a.cfg.Model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(a.cfg.SystemPrompt),
			openaigo.UserMessage(parts),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("analysis completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, fmt.Errorf("analysis completion returned no choices")
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return Result{}, fmt.Errorf("analysis completion returned empty content")
	}
	return Result{Summary: normalizeSummary(content)}, nil
}

func (a *OpenAIAnalyzer) buildContentParts(req Request) ([]openaigo.ChatCompletionContentPartUnionParam, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = "Analyze the attached document."
	}
	parts := make([]openaigo.ChatCompletionContentPartUnionParam, 0, 1+len(req.Attachments))
	parts = append(parts, openaigo.TextContentPart(prompt))

	total := int64(0)
	attached := 0
	for _, att := range req.Attachments {
		size := int64(len(att.Data))
		if size == 0 || size > a.cfg.MaxImageBytes {
			continue
		}
		if total+size > a.cfg.MaxTotalBytes {
			break
		}
		total += size
		attached++

		mime := strings.TrimSpace(att.MIME)
		if mime == "" {
			mime = "image/jpeg"
		}
		dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
		parts = append(parts, openaigo.ImageContentPart(openaigo.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL,
		}))
	}
	if len(req.Attachments) > 0 && attached == 0 {
		return nil, fmt.Errorf("no attachment within byte caps")
	}
	return parts, nil
}

// normalizeSummary keeps valid JSON as-is and wraps free text so the stored
// payload is always a JSON document.
func normalizeSummary(content string) json.RawMessage {
	if json.Valid([]byte(content)) {
		return json.RawMessage(content)
	}
	wrapped, _ := json.Marshal(map[string]string{"summary": content})
	return wrapped
}

func defaultString(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
