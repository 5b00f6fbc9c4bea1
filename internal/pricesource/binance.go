package pricesource

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"hybrid-learning-bot-go/internal/logger"
	"hybrid-learning-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	maxAttempts    = 5
	attemptTimeout = 10 * time.Second
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// BinanceSource fetches klines from the Binance public REST API. The kline
// endpoints need no API key.
type BinanceSource struct {
	client   *binance.Client
	interval string
	// now is swappable for tests; it decides whether the last kline is
	// still forming.
	now func() time.Time
}

// NewBinanceSource creates a source for the given kline interval (e.g. "5m").
func NewBinanceSource(interval string) *BinanceSource {
	return &BinanceSource{
		client:   binance.NewClient("", ""),
		interval: interval,
		now:      time.Now,
	}
}

// FetchLatest implements PriceSource.
func (s *BinanceSource) FetchLatest(ctx context.Context, symbol string, limit int) ([]models.Candle, error) {
	// Ask for one extra so that dropping the still-forming bar leaves limit
	// closed ones.
	return s.fetch(ctx, symbol, func(svc *binance.KlinesService) {
		svc.Limit(limit + 1)
	})
}

// FetchRange implements PriceSource.
func (s *BinanceSource) FetchRange(ctx context.Context, symbol string, sinceTS, untilTS int64) ([]models.Candle, error) {
	return s.fetch(ctx, symbol, func(svc *binance.KlinesService) {
		svc.StartTime(sinceTS).EndTime(untilTS).Limit(1000)
	})
}

func (s *BinanceSource) fetch(ctx context.Context, symbol string, configure func(*binance.KlinesService)) ([]models.Candle, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		svc := s.client.NewKlinesService().Symbol(symbol).Interval(s.interval)
		configure(svc)
		klines, err := svc.Do(attemptCtx)
		cancel()

		if err == nil {
			return s.convert(symbol, klines), nil
		}
		lastErr = err

		if appErr, rate := classify(err, s.now()); rate {
			wait := backoff
			if appErr.RetryAfterSec > 0 {
				wait = time.Duration(appErr.RetryAfterSec) * time.Second
			}
			if wait > maxBackoff {
				wait = maxBackoff
			}
			logger.S().Warnf("rate limited fetching %s, waiting %s (attempt %d/%d)", symbol, wait, attempt, maxAttempts)
			if !sleep(ctx, wait) {
				return nil, appErr
			}
		} else {
			logger.S().Warnf("fetch %s failed: %v (attempt %d/%d)", symbol, err, attempt, maxAttempts)
			if attempt < maxAttempts && !sleep(ctx, backoff) {
				break
			}
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	if appErr, rate := classify(lastErr, s.now()); rate {
		return nil, appErr
	}
	return nil, models.WrapAppError(models.KindSourceUnavailable, lastErr,
		"fetching %s klines after %d attempts", symbol, maxAttempts)
}

// classify maps an upstream error onto the taxonomy; the second return is
// true for rate limiting.
func classify(err error, now time.Time) (*models.AppError, bool) {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		// -1003 is Binance's request-weight limit; 418/429 responses carry
		// the same code family.
		if apiErr.Code == -1003 {
			appErr := models.WrapAppError(models.KindRateLimited, err, "binance request weight exhausted")
			appErr.RetryAfterSec = retryAfterFrom(apiErr.Message, now)
			return appErr, true
		}
	}
	return nil, false
}

// retryAfterFrom extracts the ban deadline Binance embeds in -1003 messages
// ("... IP banned until 1644131999861.") and converts it to whole seconds
// from now. Zero means no deadline was advertised.
func retryAfterFrom(msg string, now time.Time) int {
	idx := strings.LastIndex(msg, "until ")
	if idx < 0 {
		return 0
	}
	rest := msg[idx+len("until "):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	deadlineMs, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return 0
	}
	secs := int((deadlineMs - now.UnixMilli() + 999) / 1000)
	if secs < 0 {
		return 0
	}
	return secs
}

// convert parses the kline strings and drops the still-forming last bar.
func (s *BinanceSource) convert(symbol string, klines []*binance.Kline) []models.Candle {
	nowMs := s.now().UnixMilli()
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		if k.CloseTime >= nowMs {
			continue // bar not closed yet
		}
		open, err1 := strconv.ParseFloat(k.Open, 64)
		high, err2 := strconv.ParseFloat(k.High, 64)
		low, err3 := strconv.ParseFloat(k.Low, 64)
		closeP, err4 := strconv.ParseFloat(k.Close, 64)
		volume, err5 := strconv.ParseFloat(k.Volume, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			logger.S().Warnf("skipping unparsable kline for %s at %d", symbol, k.OpenTime)
			continue
		}
		candles = append(candles, models.Candle{
			Symbol: symbol,
			TS:     k.OpenTime,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closeP,
			Volume: volume,
		})
	}
	return candles
}

// sleep waits for d unless ctx is done first; it reports whether the full
// wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
