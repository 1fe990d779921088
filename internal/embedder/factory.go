package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Host      string
	CacheSize int
}

// Availability reports whether an embedding backend can be constructed
// from the current environment, and which one.
type Availability struct {
	Available bool
	Provider  string
	Model     string
	Reason    string // set when unavailable
}

// Detect inspects the environment without constructing an embedder.
// Priority: explicit MSGSEARCH_EMBEDDING_PROVIDER, then OPENAI_API_KEY,
// then an Ollama host. There is no built-in fallback; with nothing
// configured the semantic index is genuinely unavailable.
func Detect() Availability {
	if provider := strings.ToLower(os.Getenv(EnvProvider)); provider != "" {
		switch provider {
		case ProviderOpenAI:
			if os.Getenv(EnvOpenAIAPIKey) == "" {
				return Availability{Provider: provider, Reason: EnvOpenAIAPIKey + " not set"}
			}
			return Availability{Available: true, Provider: ProviderOpenAI, Model: DefaultOpenAIModel}
		case ProviderOllama:
			if os.Getenv(EnvOllamaHost) == "" && os.Getenv(EnvOllamaHostAlt) == "" {
				return Availability{Provider: provider, Reason: EnvOllamaHost + " not set"}
			}
			return Availability{Available: true, Provider: ProviderOllama, Model: DefaultOllamaModel}
		default:
			return Availability{Provider: provider, Reason: "unknown provider " + provider}
		}
	}

	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return Availability{Available: true, Provider: ProviderOpenAI, Model: DefaultOpenAIModel}
	}
	if os.Getenv(EnvOllamaHost) != "" || os.Getenv(EnvOllamaHostAlt) != "" {
		return Availability{Available: true, Provider: ProviderOllama, Model: DefaultOllamaModel}
	}
	return Availability{Reason: "no embedding backend configured"}
}

// NewFromEnv creates an embedder based on environment variables,
// following the same priority as Detect. Returns ErrBackendUnavailable
// when nothing is configured.
func NewFromEnv() (Embedder, error) {
	avail := Detect()
	if !avail.Available {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, avail.Reason)
	}

	cache := NewCache(10000)
	switch avail.Provider {
	case ProviderOpenAI:
		p, err := NewOpenAIProvider("", cache)
		if err != nil {
			// An explicit nil keeps the interface nil too; returning
			// the typed nil pointer would not.
			return nil, err
		}
		return p, nil
	case ProviderOllama:
		p, err := NewOllamaProvider("", cache)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, avail.Provider)
	}
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.APIKey, cache)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderOllama:
		p, err := NewOllamaProvider(cfg.Host, cache)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}
