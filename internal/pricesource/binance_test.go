package pricesource

import (
	"testing"
	"time"

	"hybrid-learning-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kline(openTime, closeTime int64) *binance.Kline {
	return &binance.Kline{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Open:      "100.0",
		High:      "101.0",
		Low:       "99.0",
		Close:     "100.5",
		Volume:    "12.5",
	}
}

func TestConvertDropsFormingBar(t *testing.T) {
	s := NewBinanceSource("5m")
	now := time.UnixMilli(1_000_000)
	s.now = func() time.Time { return now }

	klines := []*binance.Kline{
		kline(100_000, 399_999),
		kline(400_000, 699_999),
		kline(700_000, 1_299_999), // close time in the future: still forming
	}

	candles := s.convert("BTCUSDT", klines)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(100_000), candles[0].TS)
	assert.Equal(t, int64(400_000), candles[1].TS)
}

func TestConvertParsesFields(t *testing.T) {
	s := NewBinanceSource("5m")
	s.now = func() time.Time { return time.UnixMilli(1_000_000) }

	candles := s.convert("ETHUSDT", []*binance.Kline{kline(100_000, 399_999)})
	require.Len(t, candles, 1)

	assert.Equal(t, models.Candle{
		Symbol: "ETHUSDT",
		TS:     100_000,
		Open:   100.0,
		High:   101.0,
		Low:    99.0,
		Close:  100.5,
		Volume: 12.5,
	}, candles[0])
}

func TestConvertSkipsUnparsableKline(t *testing.T) {
	s := NewBinanceSource("5m")
	s.now = func() time.Time { return time.UnixMilli(1_000_000) }

	bad := kline(100_000, 399_999)
	bad.Close = "not-a-number"

	candles := s.convert("BTCUSDT", []*binance.Kline{bad, kline(400_000, 699_999)})
	require.Len(t, candles, 1)
	assert.Equal(t, int64(400_000), candles[0].TS)
}

func TestClassifyRateLimit(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	appErr, rate := classify(&common.APIError{Code: -1003, Message: "Too much request weight used"}, now)
	require.True(t, rate)
	assert.True(t, models.IsKind(appErr, models.KindRateLimited))
	assert.Zero(t, appErr.RetryAfterSec, "no deadline advertised")

	_, rate = classify(&common.APIError{Code: -1121, Message: "Invalid symbol"}, now)
	assert.False(t, rate)
}

func TestClassifyHonorsBanDeadline(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	appErr, rate := classify(&common.APIError{
		Code:    -1003,
		Message: "Way too much request weight used; IP banned until 1031000.",
	}, now)
	require.True(t, rate)
	assert.Equal(t, 31, appErr.RetryAfterSec)

	// A deadline already in the past falls back to the local backoff.
	appErr, _ = classify(&common.APIError{
		Code:    -1003,
		Message: "IP banned until 500.",
	}, now)
	assert.Zero(t, appErr.RetryAfterSec)
}
