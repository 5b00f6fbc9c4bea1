// Package collector pulls candles from the price source into the store and
// announces freshly closed bars.
package collector

import (
	"context"
	"sync"
	"time"

	"hybrid-learning-bot-go/internal/logger"
	"hybrid-learning-bot-go/internal/metrics"
	"hybrid-learning-bot-go/internal/models"
	"hybrid-learning-bot-go/internal/pricesource"
	"hybrid-learning-bot-go/internal/store"
)

// phase is the per-symbol collection state machine.
type phase int

const (
	phaseIdle phase = iota
	phaseFetching
	phaseWriting
	phaseError
)

const (
	fetchLimit   = 100
	errorBackoff = 30 * time.Second
	errorWindow  = time.Hour
	eventBuffer  = 256
)

type symbolState struct {
	phase      phase
	lastSeenTS int64
	lastOkTS   int64
	errorTimes []time.Time
	retryAt    time.Time
}

// Collector runs one fetch-and-store pass per symbol each tick. Failures are
// logged and counted but never propagate; the tick for that symbol is simply
// skipped and the next one proceeds.
type Collector struct {
	source  pricesource.PriceSource
	store   *store.CandleStore
	symbols []string

	events chan models.NewBar

	mu     sync.Mutex
	active bool
	state  map[string]*symbolState
}

// New creates a collector for the configured symbols. Collection starts in
// the given active state; Pause and Resume flip it globally.
func New(source pricesource.PriceSource, st *store.CandleStore, symbols []string, active bool) *Collector {
	state := make(map[string]*symbolState, len(symbols))
	for _, sym := range symbols {
		state[sym] = &symbolState{}
	}
	return &Collector{
		source:  source,
		store:   st,
		symbols: symbols,
		events:  make(chan models.NewBar, eventBuffer),
		active:  active,
		state:   state,
	}
}

// Events returns the channel of newly closed bars.
func (c *Collector) Events() <-chan models.NewBar { return c.events }

// Pause suspends collection for all symbols.
func (c *Collector) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
}

// Resume re-enables collection.
func (c *Collector) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
}

// Bootstrap seeds each symbol's high-water mark from the store so that a
// restart does not re-announce bars persisted by a previous run.
func (c *Collector) Bootstrap() {
	for _, sym := range c.symbols {
		ts, err := c.store.MaxTS(sym)
		if err != nil {
			logger.S().Warnf("bootstrap: reading max ts for %s: %v", sym, err)
			continue
		}
		c.mu.Lock()
		c.state[sym].lastSeenTS = ts
		c.mu.Unlock()
	}
}

// CollectTick performs one collection pass over all symbols. It is called
// from the orchestrator loop, so per-symbol work is strictly serialized.
func (c *Collector) CollectTick(ctx context.Context) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}

	for _, sym := range c.symbols {
		if ctx.Err() != nil {
			return
		}
		c.collectSymbol(ctx, sym)
	}
}

func (c *Collector) collectSymbol(ctx context.Context, symbol string) {
	c.mu.Lock()
	st := c.state[symbol]
	if st.phase == phaseError && time.Now().Before(st.retryAt) {
		c.mu.Unlock()
		return // backoff not elapsed yet
	}
	st.phase = phaseFetching
	lastSeen := st.lastSeenTS
	c.mu.Unlock()

	candles, err := c.source.FetchLatest(ctx, symbol, fetchLimit)
	if err != nil {
		c.recordError(symbol, err)
		return
	}

	c.mu.Lock()
	st.phase = phaseWriting
	c.mu.Unlock()

	var newBars []models.NewBar
	for _, candle := range candles {
		if werr := c.store.Upsert(candle); werr != nil {
			c.recordError(symbol, werr)
			return
		}
		if candle.TS > lastSeen {
			newBars = append(newBars, models.NewBar{Symbol: symbol, TS: candle.TS})
			lastSeen = candle.TS
		}
	}

	c.mu.Lock()
	st.phase = phaseIdle
	st.lastSeenTS = lastSeen
	st.lastOkTS = time.Now().UnixMilli()
	c.mu.Unlock()

	for _, bar := range newBars {
		select {
		case c.events <- bar:
		default:
			logger.S().Warnf("event queue full, dropping new-bar event %s@%d", bar.Symbol, bar.TS)
		}
	}
}

func (c *Collector) recordError(symbol string, err error) {
	logger.S().Warnf("collection failed for %s: %v", symbol, err)
	metrics.CollectorErrorsTotal.WithLabelValues(symbol).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state[symbol]
	st.phase = phaseError
	st.retryAt = time.Now().Add(errorBackoff)
	st.errorTimes = append(st.errorTimes, time.Now())
	st.errorTimes = pruneOld(st.errorTimes, errorWindow)
}

func pruneOld(times []time.Time, window time.Duration) []time.Time {
	cutoff := time.Now().Add(-window)
	i := 0
	for ; i < len(times); i++ {
		if times[i].After(cutoff) {
			break
		}
	}
	return times[i:]
}

// Status reports collection health for /status.
func (c *Collector) Status() models.CollectorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	perSymbol := make(map[string]models.CollectorSymbolStatus, len(c.symbols))
	for _, sym := range c.symbols {
		st := c.state[sym]
		st.errorTimes = pruneOld(st.errorTimes, errorWindow)
		perSymbol[sym] = models.CollectorSymbolStatus{
			LastOkTS:       st.lastOkTS,
			ErrorsLastHour: len(st.errorTimes),
		}
	}
	return models.CollectorStatus{Active: c.active, PerSymbol: perSymbol}
}
