package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/util"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider classifies stance with chat completions and embeds text for similarity
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: config.timeout(defaultTimeout),
		Transport: &http.Transport{
			Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy),
		},
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable lists models as a lightweight credential check
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

// Classify asks a chat model for stance probabilities in JSON mode
func (p *OpenAIProvider) Classify(ctx context.Context, claimText, evidenceText string) (model.StanceScores, error) {
	chatModel := p.config.Model
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}

	req := openai.ChatCompletionRequest{
		Model: chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildStancePrompt(claimText, evidenceText)},
		},
		MaxTokens:   p.config.maxTokens(),
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return model.StanceScores{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.StanceScores{}, fmt.Errorf("no response from OpenAI")
	}

	return ParseStanceScores(strings.TrimSpace(resp.Choices[0].Message.Content))
}

// Embed returns the embedding vector of text
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddingModel := openai.SmallEmbedding3
	if p.config.EmbeddingModel != "" {
		embeddingModel = openai.EmbeddingModel(p.config.EmbeddingModel)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: embeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned by OpenAI")
	}

	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}
