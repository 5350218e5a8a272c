package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kundankumarKD/faissrag/corpus"
	"github.com/kundankumarKD/faissrag/index"
	"github.com/kundankumarKD/faissrag/internal/fakes"
	"github.com/kundankumarKD/faissrag/provider"
)

var log = slog.New(slog.NewJSONHandler(io.Discard, nil))

const langChainSentence = "LangChain is a framework for building applications powered by LLMs."

func newTestPipeline(t *testing.T, path string, embedder *fakes.Embedder, llm *fakes.LLM) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IndexPath = path
	cfg.EmbeddingModel = "fake"
	return New(log, cfg, embedder, llm)
}

func TestAnswer(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "faiss_index.sqlite")
	embedder := &fakes.Embedder{}
	llm := &fakes.LLM{Response: "LangChain is a framework for LLM applications."}
	p := newTestPipeline(t, path, embedder, llm)

	answer, err := p.Answer(ctx, "What is LangChain?", AnswerOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Text == "" {
		t.Fatal("expected a non-empty answer")
	}
	if answer.Text != llm.Response {
		t.Errorf("expected %q, got %q", llm.Response, answer.Text)
	}
	if len(answer.Documents) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(answer.Documents))
	}
	if answer.Documents[0].Metadata["id"] != float64(2) {
		t.Errorf("expected document 2 to be ranked first, got %v", answer.Documents[0].Metadata["id"])
	}
	prompts := llm.Calls()
	if len(prompts) != 1 {
		t.Fatalf("expected the generator to be called once, got %d", len(prompts))
	}
	if !strings.Contains(prompts[0], langChainSentence) {
		t.Errorf("expected the prompt to contain %q, got %q", langChainSentence, prompts[0])
	}
	if !strings.Contains(prompts[0], "What is LangChain?") {
		t.Errorf("expected the prompt to contain the query, got %q", prompts[0])
	}
	if !index.Exists(path) {
		t.Error("expected the index to be saved")
	}
}

func TestIndexIsOnlyBuiltOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "faiss_index.sqlite")

	first := &fakes.Embedder{}
	if _, err := newTestPipeline(t, path, first, &fakes.LLM{Response: "ok"}).Answer(ctx, "What is LangChain?", AnswerOptions{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if documentCalls, _ := first.Calls(); documentCalls != 1 {
		t.Fatalf("expected the corpus to be embedded on the first run, got %d calls", documentCalls)
	}
	if !index.Exists(path) {
		t.Fatal("expected the first run to create the index")
	}

	second := &fakes.Embedder{}
	answer, err := newTestPipeline(t, path, second, &fakes.LLM{Response: "ok"}).Answer(ctx, "What is LangChain?", AnswerOptions{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	documentCalls, queryCalls := second.Calls()
	if documentCalls != 0 {
		t.Errorf("expected the corpus not to be embedded on the second run, got %d calls", documentCalls)
	}
	if queryCalls != 1 {
		t.Errorf("expected the query to be embedded once, got %d calls", queryCalls)
	}
	if answer.Documents[0].Metadata["id"] != float64(2) {
		t.Errorf("expected document 2 to be ranked first, got %v", answer.Documents[0].Metadata["id"])
	}
}

func TestRetrieveIsSameAfterReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "faiss_index.sqlite")

	built := newTestPipeline(t, path, &fakes.Embedder{}, &fakes.LLM{})
	loaded := newTestPipeline(t, path, &fakes.Embedder{}, &fakes.LLM{})
	for _, q := range []string{"What is LangChain?", "JavaScript runtime", "dense vectors"} {
		expected, err := built.Retrieve(ctx, q)
		if err != nil {
			t.Fatalf("retrieve failed: %v", err)
		}
		actual, err := loaded.Retrieve(ctx, q)
		if err != nil {
			t.Fatalf("retrieve failed: %v", err)
		}
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Errorf("results for %q differ: %v", q, diff)
		}
	}
}

func TestStaleIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "faiss_index.sqlite")
	if _, err := newTestPipeline(t, path, &fakes.Embedder{}, &fakes.LLM{}).Index(ctx); err != nil {
		t.Fatalf("failed to build index: %v", err)
	}

	cfg := DefaultConfig()
	cfg.IndexPath = path
	cfg.EmbeddingModel = "fake"
	cfg.Corpus = corpus.Corpus{Entries: []corpus.Entry{{Text: "A different corpus.", Metadata: map[string]any{"id": 1}}}}
	changed := New(log, cfg, &fakes.Embedder{}, &fakes.LLM{})

	_, err := changed.Index(ctx)
	if !errors.Is(err, index.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if KindOf(err) != KindIndex {
		t.Errorf("expected KindIndex, got %v", KindOf(err))
	}

	t.Run("rebuild replaces the stale index", func(t *testing.T) {
		store, err := changed.Rebuild(ctx)
		if err != nil {
			t.Fatalf("failed to rebuild: %v", err)
		}
		if store.Len() != 1 {
			t.Errorf("expected 1 document, got %d", store.Len())
		}
		reopened := New(log, cfg, &fakes.Embedder{}, &fakes.LLM{})
		if _, err := reopened.Index(ctx); err != nil {
			t.Errorf("expected the rebuilt index to load, got %v", err)
		}
	})
}

func TestNoContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faiss_index.sqlite")
	embedder := &fakes.Embedder{}
	llm := &fakes.LLM{Response: "I don't know."}
	answer, err := newTestPipeline(t, path, embedder, llm).Answer(context.Background(), "What is LangChain?", AnswerOptions{NoContext: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answer.Documents) != 0 {
		t.Errorf("expected no documents, got %d", len(answer.Documents))
	}
	if documentCalls, queryCalls := embedder.Calls(); documentCalls+queryCalls != 0 {
		t.Errorf("expected no embedding calls, got %d", documentCalls+queryCalls)
	}
	if index.Exists(path) {
		t.Error("expected no index to be created")
	}
}

func TestStreaming(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faiss_index.sqlite")
	llm := &fakes.LLM{Response: "LangChain is a framework."}
	var sb strings.Builder
	answer, err := newTestPipeline(t, path, &fakes.Embedder{}, llm).Answer(context.Background(), "What is LangChain?", AnswerOptions{
		StreamingFunc: func(ctx context.Context, chunk []byte) error {
			sb.Write(chunk)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sb.String() != answer.Text {
		t.Errorf("expected streamed text %q, got %q", answer.Text, sb.String())
	}
}

func TestErrorKinds(t *testing.T) {
	ctx := context.Background()

	t.Run("missing credential fails before any index is written", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "faiss_index.sqlite")
		cfg := DefaultConfig()
		cfg.IndexPath = path
		_, err := Open(log, cfg, provider.Config{APIKey: ""})
		if KindOf(err) != KindCredential {
			t.Fatalf("expected KindCredential, got %v (%v)", KindOf(err), err)
		}
		if KindOf(err).ExitCode() == 0 {
			t.Error("expected a non-zero exit code")
		}
		if index.Exists(path) {
			t.Error("expected no index to be created")
		}
	})
	t.Run("rejected credential on the first call fails before any index is written", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "faiss_index.sqlite")
		embedder := &fakes.Embedder{Err: errors.New("API returned unexpected status code: 401: Incorrect API key provided")}
		_, err := newTestPipeline(t, path, embedder, &fakes.LLM{}).Answer(ctx, "What is LangChain?", AnswerOptions{})
		if KindOf(err) != KindCredential {
			t.Fatalf("expected KindCredential, got %v (%v)", KindOf(err), err)
		}
		if index.Exists(path) {
			t.Error("expected no index to be created")
		}
	})
	t.Run("embedding failure is a provider error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "faiss_index.sqlite")
		embedder := &fakes.Embedder{Err: errors.New("API returned unexpected status code: 429: rate limit reached")}
		_, err := newTestPipeline(t, path, embedder, &fakes.LLM{}).Index(ctx)
		if KindOf(err) != KindProvider {
			t.Fatalf("expected KindProvider, got %v (%v)", KindOf(err), err)
		}
	})
	t.Run("generation failure is a provider error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "faiss_index.sqlite")
		llm := &fakes.LLM{Err: errors.New("model not found")}
		_, err := newTestPipeline(t, path, &fakes.Embedder{}, llm).Answer(ctx, "What is LangChain?", AnswerOptions{})
		if KindOf(err) != KindProvider {
			t.Fatalf("expected KindProvider, got %v (%v)", KindOf(err), err)
		}
	})
	t.Run("query dimensions that differ from the index are an index error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "faiss_index.sqlite")
		if _, err := newTestPipeline(t, path, &fakes.Embedder{}, &fakes.LLM{}).Index(ctx); err != nil {
			t.Fatalf("failed to build index: %v", err)
		}
		_, err := newTestPipeline(t, path, &fakes.Embedder{Dimensions: 8}, &fakes.LLM{}).Retrieve(ctx, "What is LangChain?")
		if KindOf(err) != KindIndex {
			t.Fatalf("expected KindIndex, got %v (%v)", KindOf(err), err)
		}
		if !errors.Is(err, index.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})
	t.Run("unwritable index path is an index error", func(t *testing.T) {
		dir := t.TempDir()
		// A directory where the index file should be makes the rename fail.
		path := filepath.Join(dir, "faiss_index.sqlite", "nested")
		if err := os.WriteFile(filepath.Join(dir, "faiss_index.sqlite"), []byte("not a directory"), 0o644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
		_, err := newTestPipeline(t, path, &fakes.Embedder{}, &fakes.LLM{}).Index(ctx)
		if KindOf(err) != KindIndex {
			t.Fatalf("expected KindIndex, got %v (%v)", KindOf(err), err)
		}
	})
}

func TestKind(t *testing.T) {
	tests := []struct {
		kind     Kind
		name     string
		exitCode int
	}{
		{kind: KindUnknown, name: "unknown", exitCode: 1},
		{kind: KindCredential, name: "credential", exitCode: 2},
		{kind: KindIndex, name: "index", exitCode: 3},
		{kind: KindProvider, name: "provider", exitCode: 4},
		{kind: KindInput, name: "input", exitCode: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.kind.String() != tt.name {
				t.Errorf("expected %q, got %q", tt.name, tt.kind.String())
			}
			if tt.kind.ExitCode() != tt.exitCode {
				t.Errorf("expected exit code %d, got %d", tt.exitCode, tt.kind.ExitCode())
			}
		})
	}
	t.Run("KindOf finds wrapped errors", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", classify("build", KindProvider, index.ErrCountMismatch))
		if KindOf(err) != KindInput {
			t.Errorf("expected KindInput, got %v", KindOf(err))
		}
		if !errors.Is(err, index.ErrCountMismatch) {
			t.Error("expected the cause to be preserved")
		}
	})
	t.Run("KindOf of a plain error is unknown", func(t *testing.T) {
		if KindOf(errors.New("plain")) != KindUnknown {
			t.Error("expected KindUnknown")
		}
	})
}

func TestPrompt(t *testing.T) {
	p := New(log, Config{UserPrompt: "context:\n%squestion: %s"}, &fakes.Embedder{}, &fakes.LLM{})
	docs, err := index.Build(context.Background(), []string{"first", "second"}, []map[string]any{{"id": 1}, {}}, &fakes.Embedder{}, index.Options{})
	if err != nil {
		t.Fatalf("failed to build: %v", err)
	}
	actual := p.Prompt("why?", docs.Documents())
	expected := "context:\nContext 1 (id 1)\nfirst\nContext 2\nsecond\nquestion: why?"
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Error(diff)
	}
}
