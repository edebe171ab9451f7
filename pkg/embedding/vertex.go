package embedding

import (
	"context"
	"fmt"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

const vertexBatchLimit = 250

// VertexEmbedder implements Embedder using Google Cloud Vertex AI. It is the
// alternate provider; model names are Vertex publisher models rather than
// OpenAI ones.
type VertexEmbedder struct {
	projectID string
	location  string
	client    *aiplatform.PredictionClient
	usage     *Usage
}

// NewVertexEmbedder creates a Vertex AI embedder.
func NewVertexEmbedder(ctx context.Context, projectID, location string, usage *Usage) (*VertexEmbedder, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID is required for Vertex AI embeddings")
	}

	clientEndpoint := fmt.Sprintf("%s-aiplatform.googleapis.com:443", location)
	client, err := aiplatform.NewPredictionClient(ctx, option.WithEndpoint(clientEndpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	if usage == nil {
		usage = NewUsage()
	}
	return &VertexEmbedder{
		projectID: projectID,
		location:  location,
		client:    client,
		usage:     usage,
	}, nil
}

// Close closes the Vertex AI client.
func (e *VertexEmbedder) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Usage returns the accumulator attached to this embedder.
func (e *VertexEmbedder) Usage() *Usage { return e.usage }

// Embed generates embeddings for a batch of texts, splitting internally when
// the batch exceeds the Vertex prediction limit.
func (e *VertexEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return [][]float32{}, 0, nil
	}

	var all [][]float32
	for i := 0; i < len(texts); i += vertexBatchLimit {
		end := i + vertexBatchLimit
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[i:end], model)
		if err != nil {
			return nil, 0, &ProviderError{Model: model, Attempts: 1, Err: err}
		}
		all = append(all, batch...)
	}

	if e.usage != nil {
		e.usage.Add(model, ApproxTokens(texts))
	}
	return all, len(all[0]), nil
}

func (e *VertexEmbedder) embedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	instances := make([]*structpb.Value, len(texts))
	for i, text := range texts {
		instance, err := structpb.NewStruct(map[string]interface{}{
			"content":   text,
			"task_type": "RETRIEVAL_DOCUMENT",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create instance: %w", err)
		}
		instances[i] = structpb.NewStructValue(instance)
	}

	endpoint := fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s",
		e.projectID, e.location, model)

	resp, err := e.client.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:  endpoint,
		Instances: instances,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex AI prediction failed: %w", err)
	}

	embeddings := make([][]float32, len(resp.Predictions))
	for i, prediction := range resp.Predictions {
		predStruct := prediction.GetStructValue()
		if predStruct == nil {
			return nil, fmt.Errorf("unexpected prediction format at index %d", i)
		}

		embeddingsField := predStruct.Fields["embeddings"]
		if embeddingsField == nil {
			return nil, fmt.Errorf("no embeddings field in prediction at index %d", i)
		}

		embStruct := embeddingsField.GetStructValue()
		if embStruct == nil {
			return nil, fmt.Errorf("unexpected embeddings format at index %d", i)
		}

		valuesField := embStruct.Fields["values"]
		if valuesField == nil {
			return nil, fmt.Errorf("no values field in embeddings at index %d", i)
		}

		valuesList := valuesField.GetListValue()
		if valuesList == nil {
			return nil, fmt.Errorf("unexpected values format at index %d", i)
		}

		embedding := make([]float32, len(valuesList.Values))
		for j, v := range valuesList.Values {
			embedding[j] = float32(v.GetNumberValue())
		}
		embeddings[i] = embedding
	}

	return embeddings, nil
}
