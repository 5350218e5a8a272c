package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kundankumarKD/faissrag/auth"
	contextpost "github.com/kundankumarKD/faissrag/handlers/context/post"
	querypost "github.com/kundankumarKD/faissrag/handlers/query/post"
	"github.com/kundankumarKD/faissrag/rag"
	"github.com/rs/cors"
)

type ServeCommand struct {
	PipelineFlags `embed:""`
	ListenAddr    string `help:"The address to listen on." env:"LISTEN_ADDR" default:"localhost:9020"`
	TLSCertFile   string `help:"The TLS certificate file." env:"TLS_CERT_FILE" default:""`
	TLSKeyFile    string `help:"The TLS key file." env:"TLS_KEY_FILE" default:""`
	APIKeysFile   string `help:"The JSON or YAML file containing a map of API keys to usernames." env:"API_KEYS_FILE" default:"apikeys.json"`
}

func newHandler(log *slog.Logger, pipeline *rag.Pipeline, apiKeyToUserName map[string]string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /query", querypost.New(log, pipeline))
	mux.Handle("POST /context", contextpost.New(log, pipeline))
	return cors.AllowAll().Handler(auth.New(apiKeyToUserName, mux))
}

func (c ServeCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.LogLevel)
	apiKeyToUserName, err := auth.LoadFromFile(c.APIKeysFile)
	if err != nil {
		return &rag.Error{Kind: rag.KindCredential, Op: "serve", Err: fmt.Errorf("failed to load API keys: %w", err)}
	}
	pipeline, err := c.Open(log)
	if err != nil {
		return err
	}
	// Load or build the index before accepting requests.
	if _, err = pipeline.Index(ctx); err != nil {
		return err
	}

	log.Info("Listening", slog.String("addr", c.ListenAddr))
	s := &http.Server{
		Addr:              c.ListenAddr,
		Handler:           newHandler(log, pipeline, apiKeyToUserName),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down", slog.Any("error", err))
		}
	}()
	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		log.Info("Enabling TLS mode")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load cert: %w", err)
		}
		s.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		err = s.ListenAndServeTLS("", "")
	} else {
		err = s.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
