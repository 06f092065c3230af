// Package generation calls the external text-generation service that turns
// an assembled context prompt into an answer, optionally streaming.
package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrGenerationService reports a failed generation call. Fatal to the
// current question; nothing partial is persisted or cached.
var ErrGenerationService = errors.New("generation service error")

const (
	// DefaultModel is the generation model used when none is configured.
	DefaultModel = "llama3"

	// DefaultTimeout bounds a full generation, which can run long on local
	// models.
	DefaultTimeout = 2 * time.Minute
)

// Sampling options carried on every request, matching the answering
// temperature the rest of the system was tuned against.
const (
	temperature = 0.3
	topP        = 0.9
	maxTokens   = 1024
)

// Fragment is one incremental piece of a streamed answer.
type Fragment struct {
	Text string
	Done bool
}

// Client generates answers through an OpenAI-compatible chat completion
// endpoint (a hosted API or a local Ollama server via base URL).
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a generation client. Empty model falls back to
// DefaultModel; baseURL overrides the default endpoint when non-empty.
func NewClient(model, baseURL string) (*Client, error) {
	if os.Getenv("OPENAI_API_KEY") == "" && baseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = DefaultModel
	}

	var opts []option.RequestOption
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &Client{client: &client, model: model}, nil
}

// Model returns the configured model identifier, recorded on answer
// records.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) params(prompt string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(temperature),
		TopP:        openai.Float(topP),
		MaxTokens:   openai.Int(maxTokens),
	}
}

// Generate produces the complete answer for a prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(callCtx, c.params(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationService, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrGenerationService)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream produces the answer incrementally, sending fragments to
// the out channel until done or the context is cancelled. The channel is
// closed when the stream ends; the full answer is returned on success.
func (c *Client) GenerateStream(ctx context.Context, prompt string, out chan<- Fragment) (string, error) {
	defer close(out)

	callCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	stream := c.client.Chat.Completions.NewStreaming(callCtx, c.params(prompt))
	defer stream.Close()

	var answer string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		answer += delta
		select {
		case out <- Fragment{Text: delta}:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrGenerationService, ctx.Err())
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationService, err)
	}

	select {
	case out <- Fragment{Done: true}:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrGenerationService, ctx.Err())
	}
	return answer, nil
}
