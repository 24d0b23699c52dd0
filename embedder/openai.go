package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultOpenAIEndpoint    = "https://api.openai.com/v1"
	defaultOpenAIModel       = "text-embedding-3-small"
	defaultOpenAIDimensions  = 1536
	defaultOpenAIParallelism = 4
	openAIMaxBatchSize       = 128
)

// OpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint. The
// openrouter and lmstudio providers are this client pointed at a different
// base URL.
type OpenAIEmbedder struct {
	endpoint    string
	model       string
	apiKey      string
	dimensions  int
	parallelism int
	client      *http.Client

	// sendDimensions controls whether the dimensions field goes on the
	// wire, which some compatible servers reject.
	sendDimensions bool
}

type OpenAIOption func(*OpenAIEmbedder)

func WithOpenAIEndpoint(endpoint string) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if endpoint != "" {
			e.endpoint = endpoint
		}
	}
}

func WithOpenAIModel(model string) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if model != "" {
			e.model = model
		}
	}
}

func WithOpenAIKey(key string) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if key != "" {
			e.apiKey = key
		}
	}
}

func WithOpenAIDimensions(dimensions int) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if dimensions > 0 {
			e.dimensions = dimensions
		}
	}
}

func WithOpenAIParallelism(n int) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithoutDimensionsField keeps the dimensions parameter off the request
// body for servers that reject it.
func WithoutDimensionsField() OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.sendDimensions = false
	}
}

func NewOpenAIEmbedder(opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	e := &OpenAIEmbedder{
		endpoint:       defaultOpenAIEndpoint,
		model:          defaultOpenAIModel,
		dimensions:     defaultOpenAIDimensions,
		parallelism:    defaultOpenAIParallelism,
		sendDimensions: true,
		client: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.apiKey == "" {
		e.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if e.apiKey == "" {
		return nil, fmt.Errorf("openai API key not set (use the api_key config field or OPENAI_API_KEY)")
	}
	return e, nil
}

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch splits the input into API-sized batches and runs them with
// bounded parallelism, reassembling results in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for start := 0; start < len(texts); start += openAIMaxBatchSize {
		end := start + openAIMaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			batch, err := e.embedOnce(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(embeddings[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := openAIEmbedRequest{Model: e.model, Input: texts}
	if e.sendDimensions {
		reqBody.Dimensions = &e.dimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := e.endpoint + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		msg := string(body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, fmt.Errorf("embeddings API error (status %d): %s", resp.StatusCode, msg)
	}

	var result openAIEmbedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return items out of order; index restores input order.
	embeddings := make([][]float32, len(texts))
	for _, item := range result.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	return embeddings, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Ping(ctx context.Context) error {
	if _, err := e.embedOnce(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embeddings endpoint %s not reachable: %w", e.endpoint, err)
	}
	return nil
}

func (e *OpenAIEmbedder) Close() error {
	return nil
}
