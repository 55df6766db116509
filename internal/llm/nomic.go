package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// nomicClient calls the Nomic Atlas embeddings endpoint directly; the
// request/response shapes are hand-rolled over net/http, trimmed to what
// this one endpoint needs.
type nomicClient struct {
	apiKey     string
	baseURL    string
	dimension  int
	httpClient *http.Client
	maxRetries int
}

func newNomicClient(cfg Config) (*nomicClient, error) {
	baseURL := cfg.OpenAIBaseURL
	if baseURL == "" {
		baseURL = "https://api-atlas.nomic.ai/v1"
	}
	return &nomicClient{
		apiKey:     cfg.OpenAIAPIKey,
		baseURL:    baseURL,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}, nil
}

type nomicEmbedRequest struct {
	Model          string   `json:"model"`
	Texts          []string `json:"texts"`
	TaskType       string   `json:"task_type"`
	Dimensionality int      `json:"dimensionality,omitempty"`
}

type nomicEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *nomicClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := withRetry(ctx, c.maxRetries, func(ctx context.Context) error {
		body, err := json.Marshal(nomicEmbedRequest{
			Model:          "nomic-embed-text-v1.5",
			Texts:          texts,
			TaskType:       "search_document",
			Dimensionality: c.dimension,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embedding/text", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("nomic embedding request failed: %d: %s", resp.StatusCode, string(respBody))
		}

		var decoded nomicEmbedResponse
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return err
		}
		out = decoded.Embeddings
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("llm: nomic embed: %w", err)
	}
	return out, nil
}
