package post

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kundankumarKD/faissrag/auth"
	"github.com/kundankumarKD/faissrag/rag"
)

type answererFunc func(ctx context.Context, query string, opts rag.AnswerOptions) (rag.Answer, error)

func (f answererFunc) Answer(ctx context.Context, query string, opts rag.AnswerOptions) (rag.Answer, error) {
	return f(ctx, query, opts)
}

var log = slog.New(slog.NewJSONHandler(io.Discard, nil))

func TestHandler(t *testing.T) {
	var gotQuery string
	var gotNoContext bool
	answerer := answererFunc(func(ctx context.Context, query string, opts rag.AnswerOptions) (rag.Answer, error) {
		gotQuery, gotNoContext = query, opts.NoContext
		for _, chunk := range []string{"LangChain ", "is ", "a framework."} {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return rag.Answer{}, err
			}
		}
		return rag.Answer{Query: query, Text: "LangChain is a framework."}, nil
	})
	h := auth.New(map[string]string{"key": "user"}, New(log, answerer))

	tests := []struct {
		name           string
		apiKey         string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "the answer is streamed",
			apiKey:         "key",
			body:           `{"text": "What is LangChain?", "no-context": true}`,
			expectedStatus: http.StatusOK,
			expectedBody:   "LangChain is a framework.",
		},
		{
			name:           "unauthenticated requests are rejected",
			apiKey:         "wrong",
			body:           `{"text": "What is LangChain?"}`,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid JSON is rejected",
			apiKey:         "key",
			body:           `{`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "empty queries are rejected",
			apiKey:         "key",
			body:           `{"text": ""}`,
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(tt.body))
			r.Header.Set("Authorization", "Bearer "+tt.apiKey)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedBody != "" && w.Body.String() != tt.expectedBody {
				t.Errorf("expected body %q, got %q", tt.expectedBody, w.Body.String())
			}
		})
	}
	if gotQuery != "What is LangChain?" {
		t.Errorf("expected the query to be passed on, got %q", gotQuery)
	}
	if !gotNoContext {
		t.Error("expected no-context to be passed on")
	}
}

func TestHandlerError(t *testing.T) {
	answerer := answererFunc(func(ctx context.Context, query string, opts rag.AnswerOptions) (rag.Answer, error) {
		return rag.Answer{}, &rag.Error{Kind: rag.KindProvider, Op: "generate", Err: errors.New("quota exceeded")}
	})
	h := auth.New(map[string]string{"key": "user"}, New(log, answerer))
	r := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"text": "What is LangChain?"}`))
	r.Header.Set("Authorization", "key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if strings.Contains(w.Body.String(), "quota") {
		t.Error("expected the provider error not to be exposed to the client")
	}
}
