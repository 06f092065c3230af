package embedding

import (
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps an OpenAI-compatible API client for embedding generation.
// Setting a base URL points it at any compatible endpoint, including a
// local Ollama server.
type Client struct {
	client *openai.Client
}

// NewClient creates an embedding API client. The API key is read from
// OPENAI_API_KEY; baseURL overrides the default endpoint when non-empty
// (self-hosted endpoints do not require a key).
func NewClient(baseURL string) (*Client, error) {
	if os.Getenv("OPENAI_API_KEY") == "" && baseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	var opts []option.RequestOption
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &Client{client: &client}, nil
}

// Client returns the underlying API client for use in other packages
// (e.g. answer generation).
func (c *Client) Client() *openai.Client {
	return c.client
}
