package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainProvider embeds through langchaingo against any OpenAI-compatible host
// (vLLM, LM Studio, LiteLLM, Azure gateways).
type LangChainProvider struct {
	alias    string
	model    string
	embedder embeddings.Embedder
}

func NewLangChainProvider(alias string) (*LangChainProvider, error) {
	suffix := ""
	if alias != "" {
		suffix = "_" + sanitizeEnvToken(alias)
	}
	host := envFirst("RAGPIPE_LANGCHAIN_BASE_URL"+suffix, "RAGPIPE_LANGCHAIN_BASE_URL")
	model := envFirst("RAGPIPE_LANGCHAIN_EMBED_MODEL"+suffix, "RAGPIPE_LANGCHAIN_EMBED_MODEL")
	token := envFirst("RAGPIPE_LANGCHAIN_TOKEN"+suffix, "RAGPIPE_LANGCHAIN_TOKEN")
	if host == "" || model == "" {
		return nil, fmt.Errorf("langchain provider %q needs base url and embed model", alias)
	}
	if token == "" {
		// local OpenAI-compatible servers ignore the token but the client requires one
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(host),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("build langchain client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("build langchain embedder: %w", err)
	}
	return &LangChainProvider{alias: alias, model: model, embedder: emb}, nil
}

func (l *LangChainProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "langchain", Model: l.model, Key: l.alias}
	vectors, err := l.embedder.EmbedDocuments(ctx, req.Inputs)
	if err != nil {
		return nil, info, fmt.Errorf("langchain embed: %w", err)
	}
	for i := range vectors {
		vectors[i] = matchDimension(vectors[i], req.Dimension)
	}
	return vectors, info, nil
}

func envFirst(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
