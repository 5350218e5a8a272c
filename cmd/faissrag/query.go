package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/a-h/jsonapi"
	"github.com/kundankumarKD/faissrag/client"
	"github.com/kundankumarKD/faissrag/models"
	"github.com/kundankumarKD/faissrag/rag"
)

type QueryCommand struct {
	PipelineFlags `embed:""`
	Text          string `arg:"" optional:"" default:"What is LangChain?" help:"The question to answer."`
	NoContext     bool   `help:"Send the question to the model without retrieving context." default:"false"`
	ServerURL     string `help:"Ask a running faissrag server instead of using the local index." env:"FAISSRAG_SERVER_URL" default:""`
	ServerAPIKey  string `help:"The API key to use with the server." env:"FAISSRAG_SERVER_API_KEY" default:""`
	Wrap          int    `help:"Wrap the answer at this many columns. Set to 0 to disable." default:"0"`
}

func (c QueryCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.LogLevel)
	out := newPrinter(os.Stdout, c.Wrap)
	if c.ServerURL != "" {
		return queryRemote(ctx, client.New(c.ServerURL, c.ServerAPIKey), out, c.Text, c.NoContext)
	}
	pipeline, err := c.Open(log)
	if err != nil {
		return err
	}
	return query(ctx, pipeline, out, c.Text, c.NoContext)
}

type answerer interface {
	Answer(ctx context.Context, query string, opts rag.AnswerOptions) (rag.Answer, error)
}

func query(ctx context.Context, a answerer, out printer, text string, noContext bool) error {
	if text == "" {
		return &rag.Error{Kind: rag.KindInput, Op: "query", Err: errEmptyQuery}
	}
	answer, err := a.Answer(ctx, text, rag.AnswerOptions{NoContext: noContext})
	if err != nil {
		return err
	}
	if err = out.Query(answer.Query); err != nil {
		return err
	}
	return out.Answer(answer.Text)
}

func queryRemote(ctx context.Context, c client.Client, out printer, text string, noContext bool) error {
	if text == "" {
		return &rag.Error{Kind: rag.KindInput, Op: "query", Err: errEmptyQuery}
	}
	var answer bytes.Buffer
	err := c.QueryPost(ctx, models.QueryPostRequest{Text: text, NoContext: noContext}, func(ctx context.Context, chunk []byte) error {
		_, err := answer.Write(chunk)
		return err
	})
	if err != nil {
		return remoteError("query", err)
	}
	if err = out.Query(text); err != nil {
		return err
	}
	return out.Answer(answer.String())
}

// remoteError classifies a failed request to a faissrag server.
func remoteError(op string, err error) error {
	kind := rag.KindProvider
	var ise jsonapi.InvalidStatusError
	if errors.As(err, &ise) {
		switch ise.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = rag.KindCredential
		case http.StatusBadRequest:
			kind = rag.KindInput
		}
	}
	return &rag.Error{Kind: kind, Op: op, Err: err}
}
