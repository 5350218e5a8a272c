// Package rag answers questions by retrieving documents from a persisted
// index and passing them, with the question, to a chat model.
//
// The index is built from the corpus on first use and saved to disk. Later
// runs load it instead of embedding the corpus again; a fingerprint of the
// corpus is stored with the index so that a changed corpus is detected.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/kundankumarKD/faissrag/corpus"
	"github.com/kundankumarKD/faissrag/index"
	"github.com/kundankumarKD/faissrag/provider"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

const DefaultSystemPrompt = `You are a trusted advisor that doesn't make up answers. You are provided with context and a question. You always use the context to answer the question. If you don't know the answer, you say that you don't know, and don't try to make up an answer.

You respect the user's time and don't provide unnecessary information. You are succinct and to the point.`

// DefaultUserPrompt is formatted with the context, then the query.
const DefaultUserPrompt = `Here is the context you need to answer the question:

%s

Please provide a succinct response to: %s`

const (
	DefaultIndexPath = "db/faiss_index.sqlite"
	DefaultK         = 4
)

type Config struct {
	IndexPath      string
	EmbeddingModel string
	// K is the number of documents retrieved for each query.
	K            int
	SystemPrompt string
	UserPrompt   string
	Corpus       corpus.Corpus
	// ChunkSize splits corpus entries longer than this many characters.
	// Zero disables splitting.
	ChunkSize    int
	ChunkOverlap int
}

func DefaultConfig() Config {
	return Config{
		IndexPath:      DefaultIndexPath,
		EmbeddingModel: provider.DefaultEmbeddingModel,
		K:              DefaultK,
		SystemPrompt:   DefaultSystemPrompt,
		UserPrompt:     DefaultUserPrompt,
		Corpus:         corpus.Default(),
		ChunkSize:      1000,
		ChunkOverlap:   100,
	}
}

type Pipeline struct {
	log      *slog.Logger
	cfg      Config
	embedder embeddings.Embedder
	llm      llms.Model

	m     sync.Mutex
	store *index.Store
}

// New creates a Pipeline. Zero values in cfg are replaced by defaults.
func New(log *slog.Logger, cfg Config, embedder embeddings.Embedder, llm llms.Model) *Pipeline {
	def := DefaultConfig()
	if cfg.IndexPath == "" {
		cfg.IndexPath = def.IndexPath
	}
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.UserPrompt == "" {
		cfg.UserPrompt = def.UserPrompt
	}
	if len(cfg.Corpus.Entries) == 0 {
		cfg.Corpus = def.Corpus
	}
	return &Pipeline{
		log:      log,
		cfg:      cfg,
		embedder: embedder,
		llm:      llm,
	}
}

// Open creates the provider clients described by pc and returns a Pipeline
// that uses them.
func Open(log *slog.Logger, cfg Config, pc provider.Config) (*Pipeline, error) {
	if pc.EmbeddingModel == "" {
		pc.EmbeddingModel = cfg.EmbeddingModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = pc.EmbeddingModel
	}
	p, err := provider.New(pc)
	if err != nil {
		return nil, classify("open", KindProvider, err)
	}
	return New(log, cfg, p.Embedder, p.LLM), nil
}

func (p *Pipeline) Config() Config {
	return p.cfg
}

func (p *Pipeline) chunkedCorpus() (c corpus.Corpus, fingerprint string, err error) {
	c, err = p.cfg.Corpus.Split(p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return c, "", &Error{Kind: KindInput, Op: "split", Err: err}
	}
	fingerprint, err = c.Fingerprint(p.cfg.EmbeddingModel)
	if err != nil {
		return c, "", &Error{Kind: KindInput, Op: "fingerprint", Err: err}
	}
	return c, fingerprint, nil
}

// Index returns the index, loading it from disk if it exists, or building
// and saving it if it does not.
func (p *Pipeline) Index(ctx context.Context) (*index.Store, error) {
	p.m.Lock()
	defer p.m.Unlock()
	if p.store != nil {
		return p.store, nil
	}
	if !index.Exists(p.cfg.IndexPath) {
		return p.rebuild(ctx)
	}
	_, fingerprint, err := p.chunkedCorpus()
	if err != nil {
		return nil, err
	}
	p.log.Info("loading index from disk", slog.String("path", p.cfg.IndexPath))
	store, err := index.Load(ctx, p.cfg.IndexPath, p.embedder, index.Options{
		Fingerprint:    fingerprint,
		EmbeddingModel: p.cfg.EmbeddingModel,
	})
	if err != nil {
		if errors.Is(err, index.ErrStale) {
			err = fmt.Errorf("%w (run the index command with --force to rebuild it)", err)
		}
		return nil, classify("load", KindIndex, err)
	}
	p.log.Info("index loaded", slog.String("path", p.cfg.IndexPath), slog.Int("documents", store.Len()))
	p.store = store
	return store, nil
}

// Rebuild embeds the corpus and saves the index, replacing any existing index.
func (p *Pipeline) Rebuild(ctx context.Context) (*index.Store, error) {
	p.m.Lock()
	defer p.m.Unlock()
	return p.rebuild(ctx)
}

func (p *Pipeline) rebuild(ctx context.Context) (*index.Store, error) {
	c, fingerprint, err := p.chunkedCorpus()
	if err != nil {
		return nil, err
	}
	p.log.Info("creating index", slog.String("path", p.cfg.IndexPath), slog.Int("documents", len(c.Entries)))
	store, err := index.Build(ctx, c.Texts(), c.Metadatas(), p.embedder, index.Options{
		Fingerprint:    fingerprint,
		EmbeddingModel: p.cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, classify("build", KindProvider, err)
	}
	if err = store.Save(ctx, p.cfg.IndexPath); err != nil {
		return nil, classify("save", KindIndex, err)
	}
	p.log.Info("index created and saved to disk", slog.String("path", p.cfg.IndexPath))
	p.store = store
	return store, nil
}

// Retrieve returns up to K documents, most similar to the query first.
func (p *Pipeline) Retrieve(ctx context.Context, query string) ([]schema.Document, error) {
	store, err := p.Index(ctx)
	if err != nil {
		return nil, err
	}
	retriever := vectorstores.ToRetriever(store, p.cfg.K)
	docs, err := retriever.GetRelevantDocuments(ctx, query)
	if err != nil {
		return nil, classify("retrieve", KindIndex, err)
	}
	return docs, nil
}

// Prompt combines the retrieved documents and the query using the user
// prompt template.
func (p *Pipeline) Prompt(query string, docs []schema.Document) string {
	var sb strings.Builder
	for i, doc := range docs {
		sb.WriteString("Context ")
		sb.WriteString(strconv.Itoa(i + 1))
		if id, ok := doc.Metadata["id"]; ok {
			sb.WriteString(fmt.Sprintf(" (id %v)", id))
		}
		sb.WriteString("\n")
		sb.WriteString(doc.PageContent)
		sb.WriteString("\n")
	}
	return fmt.Sprintf(p.cfg.UserPrompt, sb.String(), query)
}

type AnswerOptions struct {
	// NoContext skips retrieval, and sends the query to the model alone.
	NoContext bool
	// StreamingFunc, if set, receives the answer as it is generated.
	StreamingFunc func(ctx context.Context, chunk []byte) error
}

type Answer struct {
	Query     string
	Text      string
	Documents []schema.Document
}

// Answer retrieves context for the query and asks the chat model to answer it.
func (p *Pipeline) Answer(ctx context.Context, query string, opts AnswerOptions) (a Answer, err error) {
	a.Query = query
	if !opts.NoContext {
		if a.Documents, err = p.Retrieve(ctx, query); err != nil {
			return a, err
		}
	}
	ids := make([]any, len(a.Documents))
	for i, doc := range a.Documents {
		ids[i] = doc.Metadata["id"]
	}
	p.log.Info("query context", slog.Any("ids", ids))

	var callOpts []llms.CallOption
	if opts.StreamingFunc != nil {
		callOpts = append(callOpts, llms.WithStreamingFunc(opts.StreamingFunc))
	}
	resp, err := p.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, p.cfg.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, p.Prompt(query, a.Documents)),
	}, callOpts...)
	if err != nil {
		return a, classify("generate", KindProvider, err)
	}
	if len(resp.Choices) == 0 {
		return a, &Error{Kind: KindProvider, Op: "generate", Err: errors.New("no choices in response")}
	}
	a.Text = resp.Choices[0].Content
	return a, nil
}
