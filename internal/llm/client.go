// Package llm provides the text-completion client used by the triage
// pipeline, with retry, timeout, and malformed-JSON recovery layered on
// top of the raw provider.
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"golang.org/x/time/rate"
)

// Client is the minimal text-completion surface the pipeline needs.
type Client interface {
	// Generate returns the raw completion for a prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStructured completes a prompt and unmarshals the response
	// JSON into target, repairing malformed output where possible.
	GenerateStructured(ctx context.Context, prompt string, target any) error
}

// GoogleAIClient implements Client over langchaingo's googleai backend.
type GoogleAIClient struct {
	model       llms.Model
	temperature float64
	limiter     *rate.Limiter
}

// GoogleAIConfig configures the googleai-backed client.
type GoogleAIConfig struct {
	APIKey      string
	Model       string
	Temperature float64

	// RequestsPerMinute throttles outbound calls; zero disables the
	// limiter.
	RequestsPerMinute int
}

// NewGoogleAIClient builds a client for the configured model.
func NewGoogleAIClient(ctx context.Context, cfg GoogleAIConfig) (*GoogleAIClient, error) {
	opts := []googleai.Option{googleai.WithAPIKey(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(cfg.Model))
	}
	model, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create googleai client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return &GoogleAIClient{model: model, temperature: cfg.Temperature, limiter: limiter}, nil
}

// Generate implements Client.
func (c *GoogleAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait: %w", err)
		}
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithTemperature(c.temperature))
	if err != nil {
		return "", fmt.Errorf("generate completion: %w", err)
	}
	return out, nil
}

// GenerateStructured implements Client.
func (c *GoogleAIClient) GenerateStructured(ctx context.Context, prompt string, target any) error {
	raw, err := c.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	if _, err := ParseJSON(raw, target); err != nil {
		return fmt.Errorf("parse structured response: %w", err)
	}
	return nil
}
