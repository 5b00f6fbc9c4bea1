package pricesource

import (
	"context"

	"hybrid-learning-bot-go/internal/models"
)

// PriceSource abstracts the upstream exchange. Implementations return candles
// ordered ascending by timestamp and must be safe to retry (both operations
// are read-only).
type PriceSource interface {
	// FetchLatest returns up to limit most recent closed candles for symbol.
	FetchLatest(ctx context.Context, symbol string, limit int) ([]models.Candle, error)

	// FetchRange returns the closed candles with sinceTS <= ts < untilTS.
	FetchRange(ctx context.Context, symbol string, sinceTS, untilTS int64) ([]models.Candle, error)
}
