package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var ErrMissingCredential = errors.New("provider: missing API key, set OPENAI_API_KEY")

type Config struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	// EmbeddingBatchSize is the maximum number of texts sent in a single
	// embedding request.
	EmbeddingBatchSize int
	HTTPClient         *http.Client
}

const (
	DefaultChatModel          = "gpt-4o-mini"
	DefaultEmbeddingModel     = "text-embedding-3-small"
	DefaultEmbeddingBatchSize = 512
)

// Provider holds the chat model and embedder for a run.
type Provider struct {
	LLM      llms.Model
	Embedder embeddings.Embedder
}

// New creates the OpenAI backed chat model and embedder. The API key is
// checked here, so that a missing key is reported before any request is
// made.
func New(cfg Config) (p Provider, err error) {
	if cfg.APIKey == "" {
		return p, ErrMissingCredential
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = DefaultEmbeddingBatchSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.ChatModel),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
		openai.WithHTTPClient(cfg.HTTPClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		if errors.Is(err, openai.ErrMissingToken) {
			return p, ErrMissingCredential
		}
		return p, fmt.Errorf("provider: failed to create LLM: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(cfg.EmbeddingBatchSize))
	if err != nil {
		return p, fmt.Errorf("provider: failed to create embedder: %w", err)
	}
	return Provider{
		LLM:      llm,
		Embedder: emb,
	}, nil
}

// IsAuthError returns true if err was caused by the provider rejecting the
// API key.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingCredential) || errors.Is(err, openai.ErrMissingToken) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"status code: 401", "status code: 403", "invalid_api_key", "Incorrect API key"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
