package embeddings

import (
	"context"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider using an OpenAI-compatible embeddings
// endpoint.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider constructs a client against apiBase (empty uses the
// OpenAI default). dimension is the configured EMBEDDING_DIMENSION the Store
// was opened with; it is not derived from model since OpenAI-compatible
// endpoints vary.
func NewOpenAIProvider(apiBase, apiKey, model string, dimension int) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = apiBase
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model, dimension: dimension}
}

func (p *OpenAIProvider) Name() string   { return "openai" }
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, apperr.New(apperr.KindUpstreamFailure, "embeddings.openai.embed", "no embedding returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "embeddings.openai.embed_batch", err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
