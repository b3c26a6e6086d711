package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/util"
)

const defaultOllamaEmbeddingModel = "nomic-embed-text"

// OllamaProvider classifies stance and embeds text with local models
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
	config     Config
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	System  string        `json:"system,omitempty"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"` // Max tokens
}

type ollamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.timeout(60 * time.Second), // local models can be slow
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy),
			},
		},
		config: config,
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// IsAvailable checks that the Ollama server answers on /api/tags
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Classify asks the local model for stance probabilities in JSON format
func (p *OllamaProvider) Classify(ctx context.Context, claimText, evidenceText string) (model.StanceScores, error) {
	if p.config.Model == "" {
		return model.StanceScores{}, fmt.Errorf("ollama model must be specified (e.g., llama3.1:8b, mistral)")
	}

	var resp ollamaResponse
	err := p.post(ctx, "/api/generate", ollamaRequest{
		Model:  p.config.Model,
		Prompt: BuildStancePrompt(claimText, evidenceText),
		Stream: false,
		System: systemPrompt,
		Format: "json",
		Options: ollamaOptions{
			Temperature: 0,
			NumPredict:  p.config.maxTokens(),
		},
	}, &resp)
	if err != nil {
		return model.StanceScores{}, fmt.Errorf("Ollama API error: %w", err)
	}

	return ParseStanceScores(resp.Response)
}

// Embed returns the embedding vector of text
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddingModel := p.config.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaultOllamaEmbeddingModel
	}

	var resp ollamaEmbeddingResponse
	if err := p.post(ctx, "/api/embeddings", ollamaEmbeddingRequest{Model: embeddingModel, Prompt: text}, &resp); err != nil {
		return nil, fmt.Errorf("Ollama embeddings error: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned by Ollama")
	}
	return resp.Embedding, nil
}

// post sends a JSON request to the Ollama API and decodes the reply into out
func (p *OllamaProvider) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr ollamaError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("API error (%d): %s", httpResp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("API error (%d): %s", httpResp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
