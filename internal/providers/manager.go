package providers

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ragpipe/internal/config"
)

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

type Manager struct {
	embedProviders []NamedEmbedProvider
}

// NewManager builds every configured provider, each behind its own rate limiter and breaker.
func NewManager(cfg config.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		guarded := NewGuarded(ref.Raw, p, GuardOptions{
			RatePerSecond:  cfg.EmbedRatePerSecond,
			BreakerTimeout: time.Duration(cfg.BreakerTimeoutSecs) * time.Second,
			Logger:         logger,
		})
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: guarded})
	}
	return m, nil
}

// Embedder returns the preferred provider: the first non-mock one, else mock.
func (m *Manager) Embedder() (EmbeddingProvider, ProviderRef) {
	order := m.PreferredEmbedOrder()
	if len(order) == 0 {
		return NewMockProvider(1536), ProviderRef{Raw: "mock", Name: "mock"}
	}
	p := m.embedProviders[order[0]]
	return p.Provider, p.Ref
}

func (m *Manager) EmbedCount() int {
	return len(m.embedProviders)
}

func (m *Manager) EmbedProviderRefs() []ProviderRef {
	out := make([]ProviderRef, 0, len(m.embedProviders))
	for i := range m.embedProviders {
		out = append(out, m.embedProviders[i].Ref)
	}
	return out
}

func (m *Manager) PreferredEmbedOrder() []int {
	n := len(m.embedProviders)
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !strings.EqualFold(m.embedProviders[i].Ref.Name, "mock") {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if strings.EqualFold(m.embedProviders[i].Ref.Name, "mock") {
			out = append(out, i)
		}
	}
	return out
}

func buildProvider(ref ProviderRef, dim int) (EmbeddingProvider, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaEmbeddingProvider(ref.KeyAlias), nil
	case "langchain":
		return NewLangChainProvider(ref.KeyAlias)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
