package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
)

// CohereDriver implements EmbeddingDriver ("remote-cohere") for Cohere's
// embed API. Adapted from OpenAIDriver's shape: same functional-options
// pattern, same circuit+retry wrapping, different request/response schema
// (Cohere requires an explicit input_type and returns nested embeddings by
// model family rather than by array index).
type CohereDriver struct {
	apiKey     string
	model      string
	endpoint   string
	inputType  string
	dimensions int
	batchSize  int
	client     *http.Client
	circuit    *gobreaker.CircuitBreaker
}

type CohereOption func(*CohereDriver)

func WithCohereEndpoint(endpoint string) CohereOption {
	return func(d *CohereDriver) { d.endpoint = endpoint }
}

func WithCohereBatchSize(size int) CohereOption {
	return func(d *CohereDriver) { d.batchSize = size }
}

// WithCohereInputType overrides the default "search_document" input type,
// e.g. to "search_query" for query-side embeddings at search time.
func WithCohereInputType(inputType string) CohereOption {
	return func(d *CohereDriver) { d.inputType = inputType }
}

func NewCohereDriver(apiKey, model string, opts ...CohereOption) *CohereDriver {
	dims := 1024
	switch model {
	case "embed-english-v3.0", "embed-multilingual-v3.0":
		dims = 1024
	case "embed-english-light-v3.0", "embed-multilingual-light-v3.0":
		dims = 384
	}

	d := &CohereDriver{
		apiKey:     apiKey,
		model:      model,
		endpoint:   "https://api.cohere.com/v1/embed",
		inputType:  "search_document",
		dimensions: dims,
		batchSize:  96,
		client:     &http.Client{Timeout: 60 * time.Second},
		circuit:    newCircuit("embeddings-cohere"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *CohereDriver) Kind() string      { return "cohere" }
func (d *CohereDriver) Dimensions() int   { return d.dimensions }
func (d *CohereDriver) MaxBatchSize() int { return d.batchSize }

type cohereEmbedRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Message    string      `json:"message,omitempty"`
}

func (d *CohereDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > d.batchSize {
		return nil, &contracts.EmbeddingsFailed{Transient: false, Cause: fmt.Errorf("batch size %d exceeds max %d", len(texts), d.batchSize)}
	}

	var vectors [][]float64
	_, err := d.circuit.Execute(func() (any, error) {
		return nil, callWithRetry(ctx, func() error {
			v, err := d.doEmbed(ctx, texts)
			if err != nil {
				return err
			}
			vectors = v
			return nil
		})
	})
	recordEmbedCall(d.Kind(), err)
	if err != nil {
		return nil, &contracts.EmbeddingsFailed{Transient: true, Cause: err}
	}
	return vectors, nil
}

func (d *CohereDriver) doEmbed(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(cohereEmbedRequest{Texts: texts, Model: d.model, InputType: d.inputType})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cohere embed API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result cohereEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if result.Message != "" {
		return nil, fmt.Errorf("cohere error: %s", result.Message)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

func (d *CohereDriver) HealthCheck(ctx context.Context) error {
	_, err := d.Embed(ctx, []string{"health check"})
	return err
}
