// Package fakes provides deterministic stand-ins for the embedding and chat
// providers, for use in tests.
package fakes

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// DefaultDimensions of vectors produced by Embedder.
const DefaultDimensions = 2048

// Embedder hashes the words of a text into a bag-of-words vector, so texts
// that share words are similar.
type Embedder struct {
	Dimensions int
	// Err, if set, is returned by every call.
	Err error

	m             sync.Mutex
	documentCalls int
	queryCalls    int
}

var _ embeddings.Embedder = (*Embedder)(nil)

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.m.Lock()
	e.documentCalls++
	e.m.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.m.Lock()
	e.queryCalls++
	e.m.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	return e.embed(text), nil
}

// Calls returns the number of EmbedDocuments and EmbedQuery calls made.
func (e *Embedder) Calls() (documents, queries int) {
	e.m.Lock()
	defer e.m.Unlock()
	return e.documentCalls, e.queryCalls
}

func (e *Embedder) embed(text string) []float32 {
	dims := e.Dimensions
	if dims == 0 {
		dims = DefaultDimensions
	}
	vec := make([]float32, dims)
	for _, word := range Words(text) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(dims)]++
	}
	return vec
}

// Words splits text into lower case runs of letters and digits.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// LLM returns Response to every request and records the prompts it receives.
type LLM struct {
	Response string
	// Err, if set, is returned by every call.
	Err error

	m       sync.Mutex
	prompts []string
}

var _ llms.Model = (*LLM)(nil)

func (l *LLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var sb strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				sb.WriteString(tc.Text)
				sb.WriteString("\n")
			}
		}
	}
	l.m.Lock()
	l.prompts = append(l.prompts, sb.String())
	l.m.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	if opts.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(l.Response, " ") {
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: l.Response}},
	}, nil
}

func (l *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, l, prompt, options...)
}

// Calls returns a copy of the prompts received so far.
func (l *LLM) Calls() []string {
	l.m.Lock()
	defer l.m.Unlock()
	return append([]string(nil), l.prompts...)
}
