// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"bewo-chat/internal/adapters/metrics"
	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

var _ ports.LLMGateway = (*LLMGateway)(nil)

const (
	defaultLLMTimeout    = 15 * time.Second
	defaultRateLimitWait = 30 * time.Second
	defaultBreakerTrips  = 5
	defaultBreakerCool   = 30 * time.Second
)

// LLMProvider is one OpenAI-compatible endpoint (OpenRouter, OpenAI, a local proxy)
type LLMProvider struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string // used when the request names no model
}

// LLMGatewayConfig is built once from config.Config
type LLMGatewayConfig struct {
	Providers       []LLMProvider
	DefaultModel    string
	Timeout         time.Duration
	BreakerFailures uint32        // consecutive provider failures before the breaker opens
	BreakerCooldown time.Duration // how long an open breaker rejects calls
	HTTPClient      *http.Client
}

type providerClient struct {
	LLMProvider
	client  *openai.Client
	breaker *gobreaker.CircuitBreaker
}

// LLMGateway sends each completion to the first provider whose breaker is
// closed. It performs exactly one upstream request per call; retry policy
// belongs to the caller.
type LLMGateway struct {
	providers    []*providerClient
	defaultModel string
	timeout      time.Duration
}

// NewLLMGateway creates a gateway. Providers without an API key are kept out
// of rotation; with none left every call fails with a config error.
func NewLLMGateway(cfg LLMGatewayConfig) *LLMGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLLMTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerTrips
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCool
	}

	g := &LLMGateway{defaultModel: cfg.DefaultModel, timeout: cfg.Timeout}
	for _, p := range cfg.Providers {
		if strings.TrimSpace(p.APIKey) == "" {
			slog.Warn("LLM provider has no API key, skipping", "provider", p.Name)
			continue
		}
		oc := openai.DefaultConfig(p.APIKey)
		if p.BaseURL != "" {
			oc.BaseURL = p.BaseURL
		}
		if cfg.HTTPClient != nil {
			oc.HTTPClient = cfg.HTTPClient
		}
		g.providers = append(g.providers, &providerClient{
			LLMProvider: p,
			client:      openai.NewClientWithConfig(oc),
			breaker:     newBreaker(p.Name, cfg.BreakerFailures, cfg.BreakerCooldown),
		})
	}
	return g
}

func newBreaker(name string, failures uint32, cooldown time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-" + name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Rate limits and bad credentials say nothing about provider health
		IsSuccessful: func(err error) bool {
			var llmErr *domain.LLMError
			if errors.As(err, &llmErr) {
				return !llmErr.Retryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("⚡ LLM circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// Configured reports whether at least one provider has credentials
func (g *LLMGateway) Configured() bool {
	return len(g.providers) > 0
}

// ChatCompletion runs one completion. Errors are always *domain.LLMError.
func (g *LLMGateway) ChatCompletion(ctx context.Context, req domain.ChatRequest) (*domain.ChatResult, error) {
	if len(g.providers) == 0 {
		return nil, &domain.LLMError{
			Kind:       domain.LLMErrorConfig,
			Suggestion: "set LLM_API_KEY (or OPENROUTER_API_KEY / OPENAI_API_KEY)",
			Err:        errors.New("no LLM provider credentials configured"),
		}
	}
	if len(req.Messages) == 0 {
		return nil, &domain.LLMError{Kind: domain.LLMErrorConfig, Err: errors.New("empty message list")}
	}

	p := g.pickProvider()
	if p == nil {
		return nil, &domain.LLMError{
			Kind: domain.LLMErrorProvider,
			Err:  errors.New("all LLM providers are unavailable (circuit open)"),
		}
	}

	start := time.Now()
	v, err := p.breaker.Execute(func() (interface{}, error) {
		return g.complete(ctx, p, req)
	})
	latency := time.Since(start)

	if err != nil {
		llmErr := toLLMError(err)
		metrics.RecordLLM(p.Name, string(llmErr.Kind), 0, 0, latency)
		slog.Error("LLM completion failed",
			"provider", p.Name,
			"kind", llmErr.Kind,
			"status_code", llmErr.StatusCode,
			"latency_ms", latency.Milliseconds(),
			"error", llmErr.Err,
		)
		return nil, llmErr
	}

	result := v.(*domain.ChatResult)
	result.Latency = latency
	metrics.RecordLLM(p.Name, "ok", result.PromptTokens, result.CompletionTokens, latency)
	slog.Debug("LLM completion ok",
		"provider", p.Name,
		"model", result.Model,
		"tokens", result.TotalTokens(),
		"latency_ms", latency.Milliseconds(),
	)
	return result, nil
}

func (g *LLMGateway) pickProvider() *providerClient {
	for _, p := range g.providers {
		if p.breaker.State() != gobreaker.StateOpen {
			return p
		}
	}
	return nil
}

func (g *LLMGateway) complete(ctx context.Context, p *providerClient, req domain.ChatRequest) (*domain.ChatResult, error) {
	model := req.Model
	if model == "" {
		model = p.Model
	}
	if model == "" {
		model = g.defaultModel
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(callCtx, creq)
	if err != nil {
		return nil, classify(callCtx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &domain.LLMError{Kind: domain.LLMErrorProvider, Err: errors.New("empty choices")}
	}

	raw := resp.Choices[0].Message.Content
	result := &domain.ChatResult{
		RawResponse:      raw,
		Content:          raw,
		Model:            resp.Model,
		Provider:         p.Name,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if result.Model == "" {
		result.Model = model
	}
	if req.JSONMode {
		if content, value, ok := ExtractJSON(raw); ok {
			result.Content = content
			result.JSON = value
		}
	}
	return result, nil
}

// classify maps transport and API failures onto the gateway error kinds
func classify(ctx context.Context, err error) *domain.LLMError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.LLMError{Kind: domain.LLMErrorTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.LLMError{Kind: domain.LLMErrorTimeout, Err: err}
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &domain.LLMError{
			Kind:       domain.LLMErrorRateLimited,
			StatusCode: status,
			RetryAfter: defaultRateLimitWait,
			Suggestion: fmt.Sprintf("provider is throttling requests; wait about %d seconds before retrying", int(defaultRateLimitWait.Seconds())),
			Err:        err,
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.LLMError{
			Kind:       domain.LLMErrorConfig,
			StatusCode: status,
			Suggestion: "check the provider API key",
			Err:        err,
		}
	default:
		return &domain.LLMError{Kind: domain.LLMErrorProvider, StatusCode: status, Err: err}
	}
}

func toLLMError(err error) *domain.LLMError {
	var llmErr *domain.LLMError
	if errors.As(err, &llmErr) {
		return llmErr
	}
	// gobreaker.ErrOpenState / ErrTooManyRequests
	return &domain.LLMError{Kind: domain.LLMErrorProvider, Err: err}
}
