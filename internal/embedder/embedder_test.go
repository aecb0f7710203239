package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestLocalProviderDeterministic(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	a, err := p.EmbedCode(ctx, "func parseConfig(path string) (*Config, error)")
	require.NoError(t, err)
	b, err := p.EmbedCode(ctx, "func parseConfig(path string) (*Config, error)")
	require.NoError(t, err)

	assert.Equal(t, a.Vector, b.Vector)
	assert.Equal(t, LocalDimension, a.Dimension)
	assert.Equal(t, ProviderLocal, a.Provider)
}

func TestLocalProviderUnitLength(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)

	emb, err := p.EmbedQuery(context.Background(), "hash table implementation")
	require.NoError(t, err)

	var sum float64
	for _, x := range emb.Vector {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestLocalProviderSemanticOverlap(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)
	ctx := context.Background()

	query, err := p.EmbedQuery(ctx, "parse configuration file")
	require.NoError(t, err)

	relevant, err := p.EmbedCode(ctx, `func parseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	return &cfg, yaml.Unmarshal(data, &cfg)
}`)
	require.NoError(t, err)

	unrelated, err := p.EmbedCode(ctx, `func reverseLinkedList(head *Node) *Node {
	var prev *Node
	for head != nil {
		next := head.Next
		head.Next = prev
		prev = head
		head = next
	}
	return prev
}`)
	require.NoError(t, err)

	simRelevant := dotProduct(query.Vector, relevant.Vector)
	simUnrelated := dotProduct(query.Vector, unrelated.Vector)
	assert.Greater(t, simRelevant, simUnrelated)
	assert.Greater(t, simRelevant, 0.2)
}

func TestLocalProviderEmptyText(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)

	_, err = p.EmbedCode(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestLocalProviderBatch(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)
	ctx := context.Background()

	embeddings, err := p.EmbedBatch(ctx, []string{"func a() {}", "func b() {}"})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.NotEqual(t, embeddings[0].Vector, embeddings[1].Vector)

	_, err = p.EmbedBatch(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.EmbedBatch(ctx, []string{"ok", ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTokenizeCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "camel case split",
			input: "parseConfigFile",
			want:  []string{"parse", "config", "file"},
		},
		{
			name:  "snake case split",
			input: "parse_config_file",
			want:  []string{"parse", "config", "file"},
		},
		{
			name:  "acronym kept whole",
			input: "HTTPServer",
			want:  []string{"httpserver"},
		},
		{
			name:  "numbers dropped",
			input: "retry 404 handler",
			want:  []string{"retry", "handler"},
		},
		{
			name:  "single chars dropped",
			input: "a b parse",
			want:  []string{"parse"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenizeCode(tt.input))
		})
	}
}

func TestCache(t *testing.T) {
	cache := NewCache(2)

	emb := &Embedding{Vector: []float32{1, 2}, Dimension: 2, Hash: "h1"}
	cache.Set("h1", emb)

	got, ok := cache.Get("h1")
	require.True(t, ok)
	assert.Equal(t, emb.Vector, got.Vector)

	// Mutating the returned copy must not touch the cached value.
	got.Vector[0] = 99
	again, ok := cache.Get("h1")
	require.True(t, ok)
	assert.Equal(t, float32(1), again.Vector[0])

	cache.Set("h2", &Embedding{Hash: "h2"})
	cache.Set("h3", &Embedding{Hash: "h3"})
	assert.Equal(t, 2, cache.Size())

	_, ok = cache.Get("h1")
	assert.False(t, ok, "oldest entry should be evicted")

	cache.Clear()
	assert.Zero(t, cache.Size())
}

func TestLocalProviderUsesCache(t *testing.T) {
	cache := NewCache(16)
	p, err := NewLocalProvider(cache)
	require.NoError(t, err)

	_, err = p.EmbedCode(context.Background(), "func main() {}")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Size())

	_, err = p.EmbedCode(context.Background(), "func main() {}")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Size())
}

func TestFactorySelection(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")

	emb, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, emb.Provider())

	t.Setenv(EnvJinaAPIKey, "test-key")
	assert.Equal(t, ProviderJina, DetectProvider())

	t.Setenv(EnvProvider, "openai")
	assert.Equal(t, ProviderOpenAI, DetectProvider())

	t.Setenv(EnvProvider, "s3")
	_, err = NewFromEnv()
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestNewExplicitConfig(t *testing.T) {
	emb, err := New(Config{Provider: "local", CacheSize: 100})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, emb.Provider())
	assert.Equal(t, LocalDimension, emb.Dimension())

	// With no key in the config the provider falls back to the env var.
	t.Setenv(EnvJinaAPIKey, "")
	_, err = New(Config{Provider: "jina", APIKey: ""})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}
