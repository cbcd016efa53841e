package embeddings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sony/gobreaker"

	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
)

// BedrockDriver implements EmbeddingDriver ("remote-bedrock") for Amazon
// Titan Text Embeddings via the Bedrock runtime InvokeModel API. Titan has
// no native batch endpoint, so Embed issues one InvokeModel call per text;
// MaxBatchSize is capped low to keep a single change event's embedding work
// bounded rather than fan out unboundedly.
type BedrockDriver struct {
	client     *bedrockruntime.Client
	modelID    string
	dimensions int
	batchSize  int
	circuit    *gobreaker.CircuitBreaker
}

// NewBedrockDriver wraps an already-configured bedrockruntime.Client (built
// from aws-sdk-go-v2/config.LoadDefaultConfig at startup, so credential
// resolution follows the standard SDK chain rather than being reinvented
// here).
func NewBedrockDriver(client *bedrockruntime.Client, modelID string) *BedrockDriver {
	dims := 1536
	switch modelID {
	case "amazon.titan-embed-text-v1":
		dims = 1536
	case "amazon.titan-embed-text-v2:0":
		dims = 1024
	}
	return &BedrockDriver{
		client:     client,
		modelID:    modelID,
		dimensions: dims,
		batchSize:  32,
		circuit:    newCircuit("embeddings-bedrock"),
	}
}

func (d *BedrockDriver) Kind() string      { return "bedrock" }
func (d *BedrockDriver) Dimensions() int   { return d.dimensions }
func (d *BedrockDriver) MaxBatchSize() int { return d.batchSize }

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (d *BedrockDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > d.batchSize {
		return nil, &contracts.EmbeddingsFailed{Transient: false, Cause: fmt.Errorf("batch size %d exceeds max %d", len(texts), d.batchSize)}
	}

	vectors := make([][]float64, len(texts))
	_, err := d.circuit.Execute(func() (any, error) {
		return nil, callWithRetry(ctx, func() error {
			for i, text := range texts {
				v, err := d.invokeOne(ctx, text)
				if err != nil {
					return err
				}
				vectors[i] = v
			}
			return nil
		})
	})
	recordEmbedCall(d.Kind(), err)
	if err != nil {
		return nil, &contracts.EmbeddingsFailed{Transient: true, Cause: err}
	}
	return vectors, nil
}

func (d *BedrockDriver) invokeOne(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	out, err := d.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(d.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("invoke model: %w", err)
	}
	var result titanEmbedResponse
	if err := json.Unmarshal(out.Body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return result.Embedding, nil
}

func (d *BedrockDriver) HealthCheck(ctx context.Context) error {
	_, err := d.Embed(ctx, []string{"health check"})
	return err
}
