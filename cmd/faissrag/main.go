package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/kundankumarKD/faissrag/rag"
)

type CLI struct {
	Query   QueryCommand   `cmd:"query" default:"withargs" help:"Answer a question using the indexed documents. This is the default command."`
	Index   IndexCommand   `cmd:"index" help:"Build the index, or check that the existing index is current."`
	Context ContextCommand `cmd:"context" help:"Get similar documents for a piece of text."`
	Serve   ServeCommand   `cmd:"serve" help:"Start the RAG server."`
	Version VersionCommand `cmd:"version" help:"Print the version."`
}

var errEmptyQuery = errors.New("the query is empty")

func main() {
	var cli CLI
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	kctx := kong.Parse(&cli,
		kong.Name("faissrag"),
		kong.Description("Answer questions about a small document corpus using OpenAI and a local similarity index."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := kctx.Run()
	stop()
	if err != nil {
		kind := rag.KindOf(err)
		log := getLogger("error")
		log.Error("error", slog.Any("error", err), slog.String("kind", kind.String()))
		os.Exit(kind.ExitCode())
	}
}

func getLogger(level string) *slog.Logger {
	ll := slog.LevelInfo
	switch level {
	case "debug":
		ll = slog.LevelDebug
	case "info":
		ll = slog.LevelInfo
	case "warn":
		ll = slog.LevelWarn
	case "error":
		ll = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: ll,
	}))
}
