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
)

type Answerer interface {
	Answer(ctx context.Context, query string, opts rag.AnswerOptions) (rag.Answer, error)
}

func New(log *slog.Logger, answerer Answerer) Handler {
	return Handler{
		log:      log,
		answerer: answerer,
	}
}

type Handler struct {
	log      *slog.Logger
	answerer Answerer
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.GetUser(r)
	if !ok {
		http.Error(w, "authentication not provided", http.StatusUnauthorized)
		return
	}

	var req models.QueryPostRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		h.log.Error("failed to decode body", slog.Any("error", err))
		respond.WithError(w, "failed to decode body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		respond.WithError(w, "text is required", http.StatusBadRequest)
		return
	}

	var written bool
	f := func(ctx context.Context, chunk []byte) error {
		select {
		case <-ctx.Done():
			return nil
		default:
			if _, err := w.Write(chunk); err != nil {
				return err
			}
			written = true
			if flusher, canFlush := w.(http.Flusher); canFlush {
				flusher.Flush()
			}
			return nil
		}
	}

	h.log.Info("answering query", slog.String("user", user), slog.Bool("noContext", req.NoContext))
	_, err = h.answerer.Answer(r.Context(), req.Text, rag.AnswerOptions{
		NoContext:     req.NoContext,
		StreamingFunc: f,
	})
	if err != nil {
		h.log.Error("failed to answer query", slog.Any("error", err), slog.String("kind", rag.KindOf(err).String()))
		if written {
			// The status line has already been sent.
			return
		}
		respond.WithError(w, "failed to answer query", http.StatusInternalServerError)
		return
	}
}
