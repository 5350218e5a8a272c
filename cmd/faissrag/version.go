package main

import (
	"context"
	"fmt"

	"github.com/kundankumarKD/faissrag"
)

type VersionCommand struct {
}

func (c VersionCommand) Run(ctx context.Context) (err error) {
	fmt.Println(faissrag.Version)
	return nil
}
