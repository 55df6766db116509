package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// intelliClient is the default provider: OpenAI (or an OpenAI-compatible
// "intelli" endpoint when OpenAIBaseURL is set) for both chat completion
// and embeddings.
type intelliClient struct {
	client     *openai.Client
	dimension  int
	timeout    time.Duration
	maxRetries int
}

func newIntelliClient(cfg Config) (Client, error) {
	oaCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oaCfg.BaseURL = cfg.OpenAIBaseURL
	}
	return &intelliClient{
		client:     openai.NewClientWithConfig(oaCfg),
		dimension:  cfg.Dimension,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
	}, nil
}

func (c *intelliClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := withRetry(ctx, c.maxRetries, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input:          texts,
			Model:          openai.SmallEmbedding3,
			Dimensions:     c.dimension,
			EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		})
		if err != nil {
			return err
		}

		out = make([][]float32, len(resp.Data))
		for _, d := range resp.Data {
			out[d.Index] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("llm: intelli embed: %w", err)
	}
	return out, nil
}

func (c *intelliClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var content string
	err := withRetry(ctx, c.maxRetries, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: openai.GPT4oMini,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: 0,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("llm: empty choices in chat completion response")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm: intelli complete: %w", err)
	}
	return content, nil
}
