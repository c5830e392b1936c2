package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/yungbote/bookgen-worker/internal/observability"
	"github.com/yungbote/bookgen-worker/internal/pkg/jsonx"
	"github.com/yungbote/bookgen-worker/internal/platform/httpx"
	"github.com/yungbote/bookgen-worker/internal/platform/llm"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
	"github.com/yungbote/bookgen-worker/internal/platform/promptstyle"
)

const providerName = "gemini"

type Config struct {
	APIKey      string
	Model       string
	Temperature *float64
	MaxRetries  int
	Timeout     time.Duration
}

// generator is the one SDK call the client makes; tests swap it out.
type generator func(ctx context.Context, system, user string, jsonMode bool) (*genai.GenerateContentResponse, error)

type Client struct {
	log        *logger.Logger
	sdk        *genai.Client
	model      string
	maxRetries int
	timeout    time.Duration
	retryBase  time.Duration
	generate   generator
}

var _ llm.Provider = (*Client)(nil)

func NewClient(ctx context.Context, log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("missing gemini api key")
	}
	sdk, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	c := newClient(log, cfg)
	c.sdk = sdk
	c.generate = func(ctx context.Context, system, user string, jsonMode bool) (*genai.GenerateContentResponse, error) {
		m := sdk.GenerativeModel(c.model)
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		if cfg.Temperature != nil {
			m.SetTemperature(float32(*cfg.Temperature))
		}
		if jsonMode {
			m.ResponseMIMEType = "application/json"
		}
		return m.GenerateContent(ctx, genai.Text(user))
	}
	return c, nil
}

func newClient(log *logger.Logger, cfg Config) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-pro"
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		log:        log.With("service", "GeminiClient"),
		model:      model,
		maxRetries: retries,
		timeout:    cfg.Timeout,
		retryBase:  time.Second,
	}
}

func (c *Client) Name() string  { return providerName }
func (c *Client) Model() string { return c.model }

func (c *Client) Close() error {
	if c == nil || c.sdk == nil {
		return nil
	}
	return c.sdk.Close()
}

func (c *Client) GenerateText(ctx context.Context, system, user string) (string, error) {
	text, err := c.call(ctx, "text", promptstyle.ApplySystem(system, "text"), user, false)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty gemini response", llm.ErrContract)
	}
	return text, nil
}

// GenerateJSON asks for application/json output. The schema is inlined into
// the system prompt since Gemini's response schema subset differs from
// JSON Schema.
func (c *Client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	sys := promptstyle.ApplySystem(system, "json")
	if schema != nil {
		sys += "\n\nOutput schema (" + schemaName + "):\n" + schemaText(schema)
	}
	text, err := c.call(ctx, "json", sys, user, true)
	if err != nil {
		return nil, err
	}
	obj, err := jsonx.ParseObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrContract, err)
	}
	return obj, nil
}

func (c *Client) call(ctx context.Context, op, system, user string, jsonMode bool) (string, error) {
	backoff := c.retryBase
	start := time.Now()
	metrics := observability.Current()
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		resp, err := c.generate(callCtx, system, user, jsonMode)
		cancel()
		if err == nil {
			text, in, out, tErr := responseText(resp)
			status := "ok"
			if tErr != nil {
				status = "blocked"
			}
			metrics.ObserveLLMRequest(providerName, c.model, op, status, time.Since(start), in, out)
			return text, tErr
		}
		err = normalizeError(err)
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			metrics.ObserveLLMRequest(providerName, c.model, op, "error", time.Since(start), 0, 0)
			return "", err
		}
		sleepFor := httpx.JitterSleep(backoff)
		c.log.Warn("Gemini request retrying", "op", op, "attempt", attempt+1, "sleep", sleepFor.String(), "error", err.Error())
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return "", err
		}
		backoff *= 2
	}
	return "", fmt.Errorf("unreachable retry loop")
}

// normalizeError exposes the HTTP status of SDK errors to httpx classification.
func normalizeError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code > 0 {
		return fmt.Errorf("gemini: %w", &httpx.StatusError{StatusCode: gerr.Code, Body: gerr.Message})
	}
	return err
}

func responseText(resp *genai.GenerateContentResponse) (string, int, int, error) {
	if resp == nil {
		return "", 0, 0, fmt.Errorf("%w: nil gemini response", llm.ErrContract)
	}
	var in, out int
	if resp.UsageMetadata != nil {
		in = int(resp.UsageMetadata.PromptTokenCount)
		out = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	if b.Len() == 0 {
		reason := "no candidates"
		if resp.PromptFeedback != nil {
			reason = "prompt blocked: " + resp.PromptFeedback.BlockReason.String()
		}
		return "", in, out, fmt.Errorf("%w: %s", llm.ErrContract, reason)
	}
	return b.String(), in, out, nil
}

func schemaText(schema map[string]any) string {
	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return ""
	}
	return string(raw)
}
