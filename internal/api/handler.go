// Package api exposes the issuer over HTTP with dual JSON/XML rendering.
package api

import (
	"context"
	"log/slog"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/authorize"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/config"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/cvv"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/domain"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/store"
)

// CardStore is what the handlers need beyond the engine: the administrative
// card surface and the ledger listing. Both store.Store and store.Memory
// satisfy it.
type CardStore interface {
	CreateCard(ctx context.Context, nc store.NewCard) (*domain.Card, error)
	GetCard(ctx context.Context, pan string) (*domain.Card, error)
	ListCards(ctx context.Context) ([]domain.Card, error)
	UpdateCard(ctx context.Context, pan string, patch store.CardPatch) (*domain.Card, error)
	ListTransactions(ctx context.Context, pan string) ([]domain.Transaction, error)
	Ping(ctx context.Context) error
}

type Handler struct {
	store    CardStore
	engine   *authorize.Engine
	verifier *cvv.Verifier
	cfg      *config.Config
	log      *slog.Logger
}

func NewHandler(s CardStore, engine *authorize.Engine, verifier *cvv.Verifier, cfg *config.Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: s, engine: engine, verifier: verifier, cfg: cfg, log: log}
}
