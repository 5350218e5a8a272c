package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kundankumarKD/faissrag/index"
)

type IndexCommand struct {
	PipelineFlags `embed:""`
	Force         bool `help:"Rebuild the index even if it already exists." default:"false"`
}

func (c IndexCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.LogLevel)
	pipeline, err := c.Open(log)
	if err != nil {
		return err
	}
	var store *index.Store
	if c.Force {
		store, err = pipeline.Rebuild(ctx)
	} else {
		store, err = pipeline.Index(ctx)
	}
	if err != nil {
		return err
	}
	return printIndex(os.Stdout, c.IndexPath, store)
}

func printIndex(w io.Writer, path string, store *index.Store) error {
	h := store.Header()
	_, err := fmt.Fprintf(w, "Index: %s (%d documents, %d dimensions, %s, created %s)\n",
		path, store.Len(), h.Dimensions, h.EmbeddingModel, h.CreatedAt.Format("2006-01-02T15:04:05Z"))
	return err
}
