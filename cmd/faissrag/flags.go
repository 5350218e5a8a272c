package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kundankumarKD/faissrag/corpus"
	"github.com/kundankumarKD/faissrag/provider"
	"github.com/kundankumarKD/faissrag/rag"
)

// PipelineFlags configure the index, the corpus and the model provider. They
// are shared by every command that runs the pipeline locally.
type PipelineFlags struct {
	OpenAIAPIKey   string `help:"The OpenAI API key." env:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL  string `help:"The base URL of an OpenAI compatible API." env:"OPENAI_BASE_URL" default:""`
	ChatModel      string `help:"The model to chat with." env:"CHAT_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel string `help:"The model to use for embeddings." env:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	IndexPath      string `help:"The path of the index file." env:"INDEX_PATH" default:"db/faiss_index.sqlite"`
	CorpusFile     string `help:"A YAML file of documents to index instead of the built-in corpus." env:"CORPUS_FILE" default:""`
	ChunkSize      int    `help:"Split documents longer than this many characters. Set to 0 to disable." env:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap   int    `help:"The number of characters shared by adjacent chunks." env:"CHUNK_OVERLAP" default:"100"`
	K              int    `help:"The number of documents to retrieve for each query." env:"RETRIEVAL_K" default:"4"`
	SystemPrompt   string `help:"A file containing the system prompt." env:"SYSTEM_PROMPT" default:""`
	UserPrompt     string `help:"A file containing the user prompt. The context and query are substituted for the first and second %s." env:"USER_PROMPT" default:""`
	LogLevel       string `help:"The log level to use." env:"LOG_LEVEL" default:"info"`
}

func readFileOrDefault(filename, defaultContent string) (string, error) {
	if filename == "" {
		return defaultContent, nil
	}
	contents, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return string(contents), nil
}

// validateUserPrompt requires exactly two %s verbs and no other verbs. A
// literal percent sign is written as %%.
func validateUserPrompt(template string) error {
	verbs := strings.ReplaceAll(template, "%%", "")
	if strings.Count(verbs, "%s") != 2 || strings.Count(verbs, "%") != 2 {
		return fmt.Errorf("invalid user prompt template, it must contain exactly two %%s verbs: %q", template)
	}
	return nil
}

func (f PipelineFlags) Config() (cfg rag.Config, err error) {
	cfg = rag.DefaultConfig()
	cfg.IndexPath = f.IndexPath
	cfg.EmbeddingModel = f.EmbeddingModel
	cfg.K = f.K
	cfg.ChunkSize = f.ChunkSize
	cfg.ChunkOverlap = f.ChunkOverlap
	if cfg.Corpus, err = corpus.LoadFile(f.CorpusFile); err != nil {
		return cfg, &rag.Error{Kind: rag.KindInput, Op: "config", Err: err}
	}
	if cfg.SystemPrompt, err = readFileOrDefault(f.SystemPrompt, rag.DefaultSystemPrompt); err != nil {
		return cfg, &rag.Error{Kind: rag.KindInput, Op: "config", Err: fmt.Errorf("failed to read system prompt: %w", err)}
	}
	if cfg.UserPrompt, err = readFileOrDefault(f.UserPrompt, rag.DefaultUserPrompt); err != nil {
		return cfg, &rag.Error{Kind: rag.KindInput, Op: "config", Err: fmt.Errorf("failed to read user prompt: %w", err)}
	}
	if err = validateUserPrompt(cfg.UserPrompt); err != nil {
		return cfg, &rag.Error{Kind: rag.KindInput, Op: "config", Err: err}
	}
	return cfg, nil
}

func (f PipelineFlags) ProviderConfig() provider.Config {
	return provider.Config{
		APIKey:         f.OpenAIAPIKey,
		BaseURL:        f.OpenAIBaseURL,
		ChatModel:      f.ChatModel,
		EmbeddingModel: f.EmbeddingModel,
	}
}

// Open creates the pipeline for a single run.
func (f PipelineFlags) Open(log *slog.Logger) (*rag.Pipeline, error) {
	cfg, err := f.Config()
	if err != nil {
		return nil, err
	}
	log.Info("creating LLM clients", slog.String("chatModel", f.ChatModel), slog.String("embeddingModel", f.EmbeddingModel))
	return rag.Open(log, cfg, f.ProviderConfig())
}
