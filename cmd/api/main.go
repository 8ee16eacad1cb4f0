package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/api"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/authorize"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/config"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/cvv"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	issuerStore, err := store.NewStore(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer issuerStore.Close()

	if err := issuerStore.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Unable to ensure schema: %v", err)
	}

	verifier := cvv.NewVerifier(cfg.CVVPepper)
	engine := authorize.NewEngine(issuerStore, verifier, cfg.IdemRetention)
	handler := api.NewHandler(issuerStore, engine, verifier, cfg, logger)
	router := api.NewRouter(handler)

	logger.Info("server starting", "port", cfg.Port, "env", cfg.Env, "issuer", cfg.IssuerName)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatal(err)
	}
}
