package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	openai "github.com/sashabaranov/go-openai"
)

const azureCognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

// azureTokenSource adapts azidentity's client-credential flow to the
// AzureADTokenSource interface go-openai expects for Azure AD auth, so the
// azure provider never handles a static API key.
type azureTokenSource struct {
	cred *azidentity.ClientSecretCredential
}

func (a *azureTokenSource) AzureADToken(ctx context.Context) (string, error) {
	tok, err := a.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{azureCognitiveServicesScope}})
	if err != nil {
		return "", fmt.Errorf("llm: azure ad token: %w", err)
	}
	return tok.Token, nil
}

// azureClient serves embeddings only; splitClient pairs it with the
// intelli chat client for completions.
type azureClient struct {
	client     *openai.Client
	dimension  int
	timeout    time.Duration
	maxRetries int
}

func newAzureClient(cfg Config) (*azureClient, error) {
	cred, err := azidentity.NewClientSecretCredential(cfg.AzureTenantID, cfg.AzureClientID, cfg.AzureClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("llm: azure credential: %w", err)
	}

	oaCfg := openai.DefaultAzureConfig("", cfg.AzureEmbeddingURL)
	oaCfg.APIType = openai.APITypeAzureAD
	oaCfg.AzureADTokenSource = &azureTokenSource{cred: cred}

	return &azureClient{
		client:     openai.NewClientWithConfig(oaCfg),
		dimension:  cfg.Dimension,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
	}, nil
}

func (c *azureClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := withRetry(ctx, c.maxRetries, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input:      texts,
			Model:      openai.AdaEmbeddingV2,
			Dimensions: c.dimension,
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
		return nil, fmt.Errorf("llm: azure embed: %w", err)
	}
	return out, nil
}
