package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Backend produces text for a prompt using one credential.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiBackend generates content through a genai client bound to one API key.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend creates a backend for model. An empty baseURL uses the
// public Gemini endpoint. The timeout bounds each call.
func NewGeminiBackend(ctx context.Context, baseURL, model, apiKey string, timeout time.Duration) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

// Generate sends prompt and returns the first candidate's text. The reply is requested as JSON.
func (g *GeminiBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fromGenaiError(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// fromGenaiError maps SDK errors to *APIError, lifting the RetryInfo delay.
func fromGenaiError(err error) error {
	var gerr genai.APIError
	if !errors.As(err, &gerr) {
		var perr *genai.APIError
		if !errors.As(err, &perr) || perr == nil {
			return fmt.Errorf("generation request failed: %w", err)
		}
		gerr = *perr
	}

	apiErr := &APIError{StatusCode: gerr.Code, Status: gerr.Status, Message: gerr.Message}
	for _, d := range gerr.Details {
		typ, _ := d["@type"].(string)
		if !strings.HasSuffix(typ, "google.rpc.RetryInfo") {
			continue
		}
		if delay, ok := d["retryDelay"].(string); ok {
			apiErr.RetryAfter = parseProtoDuration(delay)
		}
	}
	return apiErr
}
