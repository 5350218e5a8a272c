package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/kundankumarKD/faissrag/client"
	contextpost "github.com/kundankumarKD/faissrag/handlers/context/post"
	"github.com/kundankumarKD/faissrag/models"
)

type ContextCommand struct {
	PipelineFlags `embed:""`
	Text          string `arg:"" help:"The text to find similar documents for."`
	ServerURL     string `help:"Ask a running faissrag server instead of using the local index." env:"FAISSRAG_SERVER_URL" default:""`
	ServerAPIKey  string `help:"The API key to use with the server." env:"FAISSRAG_SERVER_API_KEY" default:""`
	Pretty        bool   `help:"Pretty print the JSON output." default:"true" negatable:""`
}

func (c ContextCommand) Run(ctx context.Context) (err error) {
	var resp models.ContextPostResponse
	if c.ServerURL != "" {
		resp, err = client.New(c.ServerURL, c.ServerAPIKey).ContextPost(ctx, models.ContextPostRequest{
			Text: c.Text,
		})
		if err != nil {
			return remoteError("context", err)
		}
	} else {
		log := getLogger(c.LogLevel)
		pipeline, err := c.Open(log)
		if err != nil {
			return err
		}
		docs, err := pipeline.Retrieve(ctx, c.Text)
		if err != nil {
			return err
		}
		resp = contextpost.NewResponse(docs)
	}

	enc := json.NewEncoder(os.Stdout)
	if c.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}
