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

	"github.com/hubgrep/hubgrep-mcp/internal/metrics"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"

	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	MaxBatchSize = 100

	// Environment variables
	EnvProvider     = "HUBGREP_EMBEDDING_PROVIDER"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// Jina task hints: retrieval queries and passages embed differently
const (
	jinaTaskQuery   = "retrieval.query"
	jinaTaskPassage = "retrieval.passage"
)

// JinaProvider implements Embedder using the Jina AI API
type JinaProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
	cache      *Cache
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache) (*JinaProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvJinaAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}

	return &JinaProvider{
		apiKey: apiKey,
		model:  DefaultJinaModel,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache,
	}, nil
}

func (j *JinaProvider) EmbedQuery(ctx context.Context, text string) (*Embedding, error) {
	return j.embedOne(ctx, text, jinaTaskQuery)
}

func (j *JinaProvider) EmbedCode(ctx context.Context, text string) (*Embedding, error) {
	return j.embedOne(ctx, text, jinaTaskPassage)
}

func (j *JinaProvider) embedOne(ctx context.Context, text, task string) (*Embedding, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}

	// Queries and passages have distinct cache keyspaces.
	hash := ComputeHash(task + "\x00" + text)
	if j.cache != nil {
		if emb, ok := j.cache.Get(hash); ok {
			return emb, nil
		}
	}

	embeddings, err := j.embed(ctx, []string{text}, task)
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	emb := embeddings[0]
	emb.Hash = hash
	if j.cache != nil {
		j.cache.Set(hash, emb)
	}
	return emb, nil
}

func (j *JinaProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	embeddings, err := j.embed(ctx, texts, jinaTaskPassage)
	if err != nil {
		return nil, err
	}

	if j.cache != nil {
		for i, emb := range embeddings {
			hash := ComputeHash(jinaTaskPassage + "\x00" + texts[i])
			emb.Hash = hash
			j.cache.Set(hash, emb)
		}
	}
	return embeddings, nil
}

func (j *JinaProvider) embed(ctx context.Context, texts []string, task string) ([]*Embedding, error) {
	config := DefaultRetryConfig()
	embeddings, err := retryWithBackoff(ctx, config, func() ([]*Embedding, error) {
		return j.callAPI(ctx, texts, task)
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d retries: %v", ErrProviderFailed, MaxRetries, err)
	}
	return embeddings, nil
}

func (j *JinaProvider) callAPI(ctx context.Context, texts []string, task string) ([]*Embedding, error) {
	start := time.Now()
	defer func() { metrics.EmbeddingDuration.Observe(time.Since(start).Seconds()) }()

	reqBody := map[string]interface{}{
		"input": texts,
		"model": j.model,
		"task":  task,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.jina.ai/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  ProviderJina,
			Model:     apiResp.Model,
		}
	}
	return embeddings, nil
}

func (j *JinaProvider) Dimension() int {
	return JinaDimension
}

func (j *JinaProvider) Provider() string {
	return ProviderJina
}

func (j *JinaProvider) Model() string {
	return j.model
}

func (j *JinaProvider) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}

// OpenAIProvider implements Embedder using the OpenAI API
type OpenAIProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
	cache      *Cache
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}

	return &OpenAIProvider{
		apiKey: apiKey,
		model:  DefaultOpenAIModel,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache,
	}, nil
}

// EmbedQuery embeds a query. OpenAI embeddings are symmetric, so queries
// and passages share a model and a cache keyspace.
func (o *OpenAIProvider) EmbedQuery(ctx context.Context, text string) (*Embedding, error) {
	return o.embedOne(ctx, text)
}

func (o *OpenAIProvider) EmbedCode(ctx context.Context, text string) (*Embedding, error) {
	return o.embedOne(ctx, text)
}

func (o *OpenAIProvider) embedOne(ctx context.Context, text string) (*Embedding, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}

	hash := ComputeHash(text)
	if o.cache != nil {
		if emb, ok := o.cache.Get(hash); ok {
			return emb, nil
		}
	}

	embeddings, err := o.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	emb := embeddings[0]
	emb.Hash = hash
	if o.cache != nil {
		o.cache.Set(hash, emb)
	}
	return emb, nil
}

func (o *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	embeddings, err := o.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		for i, emb := range embeddings {
			hash := ComputeHash(texts[i])
			emb.Hash = hash
			o.cache.Set(hash, emb)
		}
	}
	return embeddings, nil
}

func (o *OpenAIProvider) embed(ctx context.Context, texts []string) ([]*Embedding, error) {
	config := DefaultRetryConfig()
	embeddings, err := retryWithBackoff(ctx, config, func() ([]*Embedding, error) {
		return o.callAPI(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d retries: %v", ErrProviderFailed, MaxRetries, err)
	}
	return embeddings, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	start := time.Now()
	defer func() { metrics.EmbeddingDuration.Observe(time.Since(start).Seconds()) }()

	reqBody := map[string]interface{}{
		"input": texts,
		"model": o.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  ProviderOpenAI,
			Model:     apiResp.Model,
		}
	}
	return embeddings, nil
}

func (o *OpenAIProvider) Dimension() int {
	return OpenAIDimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
