package post

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/a-h/respond"
	"github.com/kundankumarKD/faissrag/auth"
	"github.com/kundankumarKD/faissrag/models"
	"github.com/kundankumarKD/faissrag/rag"
	"github.com/tmc/langchaingo/schema"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]schema.Document, error)
}

func New(log *slog.Logger, retriever Retriever) Handler {
	return Handler{
		log:       log,
		retriever: retriever,
	}
}

type Handler struct {
	log       *slog.Logger
	retriever Retriever
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.GetUser(r); !ok {
		http.Error(w, "authentication not provided", http.StatusUnauthorized)
		return
	}

	var req models.ContextPostRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		h.log.Error("failed to decode body", slog.Any("error", err))
		respond.WithError(w, "failed to decode body", http.StatusBadRequest)
		return
	}

	var docs []schema.Document
	if req.Text != "" {
		docs, err = h.retriever.Retrieve(r.Context(), req.Text)
		if err != nil {
			h.log.Error("failed to find nearest documents", slog.Any("error", err), slog.String("kind", rag.KindOf(err).String()))
			respond.WithError(w, "failed to find nearest documents", http.StatusInternalServerError)
			return
		}
	}

	respond.WithJSON(w, NewResponse(docs), http.StatusOK)
}

// NewResponse converts retrieved documents to the wire format.
func NewResponse(docs []schema.Document) (resp models.ContextPostResponse) {
	resp.Results = make([]models.ContextDocument, len(docs))
	for i, doc := range docs {
		resp.Results[i] = models.ContextDocument{
			Text:     doc.PageContent,
			Metadata: doc.Metadata,
			Score:    doc.Score,
		}
	}
	return resp
}
