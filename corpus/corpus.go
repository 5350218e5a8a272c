package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"gopkg.in/yaml.v3"
)

// Entry is a single piece of text and its metadata.
type Entry struct {
	Text     string         `yaml:"text"`
	Metadata map[string]any `yaml:"metadata"`
}

type Corpus struct {
	Entries []Entry `yaml:"documents"`
}

// Default returns the built-in corpus.
func Default() Corpus {
	return Corpus{
		Entries: []Entry{
			{Text: "Node.js is a JavaScript runtime built on Chrome's V8 engine.", Metadata: map[string]any{"id": 1}},
			{Text: "LangChain is a framework for building applications powered by LLMs.", Metadata: map[string]any{"id": 2}},
			{Text: "FAISS is a library for efficient similarity search and clustering of dense vectors.", Metadata: map[string]any{"id": 3}},
		},
	}
}

var ErrEmpty = errors.New("corpus: no documents")

// LoadFile reads a YAML corpus file. If name is empty, the default corpus is returned.
func LoadFile(name string) (c Corpus, err error) {
	if name == "" {
		return Default(), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return c, fmt.Errorf("corpus: failed to open %s: %w", name, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a YAML document of the form:
//
//	documents:
//	  - text: Some text.
//	    metadata:
//	      id: 1
func Parse(r io.Reader) (c Corpus, err error) {
	if err = yaml.NewDecoder(r).Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return c, ErrEmpty
		}
		return c, fmt.Errorf("corpus: failed to decode: %w", err)
	}
	if len(c.Entries) == 0 {
		return c, ErrEmpty
	}
	for i, e := range c.Entries {
		if e.Text == "" {
			return c, fmt.Errorf("corpus: document %d has no text", i)
		}
	}
	return c, nil
}

func (c Corpus) Texts() []string {
	texts := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		texts[i] = e.Text
	}
	return texts
}

func (c Corpus) Metadatas() []map[string]any {
	metadatas := make([]map[string]any, len(c.Entries))
	for i, e := range c.Entries {
		metadatas[i] = e.Metadata
	}
	return metadatas
}

// Split breaks entries longer than chunkSize into several entries. Each chunk
// keeps the metadata of the entry it came from. Short entries are unchanged.
func (c Corpus) Split(chunkSize, chunkOverlap int) (Corpus, error) {
	if chunkSize <= 0 {
		return c, nil
	}
	docs := make([]schema.Document, len(c.Entries))
	for i, e := range c.Entries {
		docs[i] = schema.Document{PageContent: e.Text, Metadata: e.Metadata}
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	chunks, err := textsplitter.SplitDocuments(splitter, docs)
	if err != nil {
		return c, fmt.Errorf("corpus: failed to split documents: %w", err)
	}
	out := Corpus{Entries: make([]Entry, len(chunks))}
	for i, chunk := range chunks {
		out.Entries[i] = Entry{Text: chunk.PageContent, Metadata: chunk.Metadata}
	}
	return out, nil
}

// Fingerprint identifies the content an index was built from. Any change to
// the embedding model, a text, a metadata value or the order of entries
// produces a different fingerprint.
func Fingerprint(embeddingModel string, texts []string, metadatas []map[string]any) (string, error) {
	if len(texts) != len(metadatas) {
		return "", fmt.Errorf("corpus: %d texts but %d metadatas", len(texts), len(metadatas))
	}
	h := sha256.New()
	enc := json.NewEncoder(h)
	if err := enc.Encode(embeddingModel); err != nil {
		return "", err
	}
	for i := range texts {
		if err := enc.Encode(texts[i]); err != nil {
			return "", err
		}
		if err := enc.Encode(metadatas[i]); err != nil {
			return "", fmt.Errorf("corpus: failed to encode metadata %d: %w", i, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint of the corpus for the given embedding model.
func (c Corpus) Fingerprint(embeddingModel string) (string, error) {
	return Fingerprint(embeddingModel, c.Texts(), c.Metadatas())
}
