// Package openaicompat implements finrag.EmbeddingProvider for any
// OpenAI-compatible embeddings API.
//
// Works with OpenAI, Azure OpenAI, Together, Fireworks, Ollama, vLLM,
// LM Studio, SiliconFlow, and any other provider that implements the
// OpenAI embeddings endpoint.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/valueseeker/finrag"
)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client, e.g. with a transport-level
// timeout. Default is http.DefaultClient semantics with no timeout; callers
// bound requests through context instead.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// Provider implements finrag.EmbeddingProvider against an
// OpenAI-compatible /embeddings endpoint.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	client     *http.Client
}

var _ finrag.EmbeddingProvider = (*Provider)(nil)

// New creates an embeddings provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /embeddings path is appended
// automatically. dimensions is the requested output dimension; zero leaves
// it to the model's default.
func New(apiKey, model, baseURL string, dimensions int, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
		client:     &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// embeddingRequest is the OpenAI embeddings request body.
type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
	Dimensions     int      `json:"dimensions,omitempty"`
}

// embeddingResponse is the OpenAI embeddings response body.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embeddingRequest{
		Model:          p.model,
		Input:          texts,
		EncodingFormat: "float",
		Dimensions:     p.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal request: %w", err)
	}

	url := p.baseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &finrag.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var er embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("openaicompat: decode response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("openaicompat: got %d embeddings for %d inputs", len(er.Data), len(texts))
	}

	// The API is not required to preserve input order.
	sort.Slice(er.Data, func(i, j int) bool { return er.Data[i].Index < er.Data[j].Index })

	out := make([][]float32, len(er.Data))
	for i, d := range er.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
