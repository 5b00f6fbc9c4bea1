package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"hybrid-learning-bot-go/internal/models"
	"hybrid-learning-bot-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource serves canned candles or a canned error per symbol.
type stubSource struct {
	candles map[string][]models.Candle
	err     error
	calls   int
}

func (s *stubSource) FetchLatest(_ context.Context, symbol string, _ int) ([]models.Candle, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.candles[symbol], nil
}

func (s *stubSource) FetchRange(_ context.Context, symbol string, _, _ int64) ([]models.Candle, error) {
	return s.candles[symbol], nil
}

func testCandles(symbol string, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Symbol: symbol, TS: int64(i+1) * 300_000,
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 3,
		}
	}
	return out
}

func openStore(t *testing.T) *store.CandleStore {
	t.Helper()
	st, err := store.Open(":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCollectTickStoresAndAnnounces(t *testing.T) {
	st := openStore(t)
	source := &stubSource{candles: map[string][]models.Candle{"BTCUSDT": testCandles("BTCUSDT", 5)}}
	c := New(source, st, []string{"BTCUSDT"}, true)

	c.CollectTick(context.Background())

	count, err := st.Count("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	for i := 0; i < 5; i++ {
		select {
		case bar := <-c.Events():
			assert.Equal(t, "BTCUSDT", bar.Symbol)
			assert.Equal(t, int64(i+1)*300_000, bar.TS)
		default:
			t.Fatalf("expected 5 new-bar events, got %d", i)
		}
	}
}

func TestCollectTickDoesNotReannounce(t *testing.T) {
	st := openStore(t)
	source := &stubSource{candles: map[string][]models.Candle{"BTCUSDT": testCandles("BTCUSDT", 3)}}
	c := New(source, st, []string{"BTCUSDT"}, true)

	c.CollectTick(context.Background())
	for i := 0; i < 3; i++ {
		<-c.Events()
	}

	// Same candles again: idempotent writes, no new events.
	c.CollectTick(context.Background())
	select {
	case bar := <-c.Events():
		t.Fatalf("unexpected re-announcement of %s@%d", bar.Symbol, bar.TS)
	default:
	}

	count, err := st.Count("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestFailedFetchLeavesStoreUntouched(t *testing.T) {
	st := openStore(t)
	source := &stubSource{err: errors.New("connection refused")}
	c := New(source, st, []string{"BTCUSDT"}, true)

	for i := 0; i < 3; i++ {
		// Clear the backoff so each tick really hits the source.
		c.mu.Lock()
		c.state["BTCUSDT"].retryAt = time.Time{}
		c.mu.Unlock()
		c.CollectTick(context.Background())
	}

	count, err := st.Count("BTCUSDT")
	require.NoError(t, err)
	assert.Zero(t, count)

	status := c.Status()
	assert.Equal(t, 3, status.PerSymbol["BTCUSDT"].ErrorsLastHour)
	assert.Zero(t, status.PerSymbol["BTCUSDT"].LastOkTS)
}

func TestErrorBackoffSkipsTicks(t *testing.T) {
	st := openStore(t)
	source := &stubSource{err: errors.New("boom")}
	c := New(source, st, []string{"BTCUSDT"}, true)

	c.CollectTick(context.Background())
	c.CollectTick(context.Background())

	assert.Equal(t, 1, source.calls, "second tick inside the backoff window must not fetch")
}

func TestPauseStopsCollection(t *testing.T) {
	st := openStore(t)
	source := &stubSource{candles: map[string][]models.Candle{"BTCUSDT": testCandles("BTCUSDT", 2)}}
	c := New(source, st, []string{"BTCUSDT"}, true)

	c.Pause()
	c.CollectTick(context.Background())
	assert.Zero(t, source.calls)
	assert.False(t, c.Status().Active)

	c.Resume()
	c.CollectTick(context.Background())
	assert.Equal(t, 1, source.calls)
	assert.True(t, c.Status().Active)
}

func TestBootstrapSeedsHighWaterMark(t *testing.T) {
	st := openStore(t)
	require.NoError(t, st.Upsert(models.Candle{Symbol: "BTCUSDT", TS: 600_000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}))

	source := &stubSource{candles: map[string][]models.Candle{"BTCUSDT": testCandles("BTCUSDT", 3)}}
	c := New(source, st, []string{"BTCUSDT"}, true)
	c.Bootstrap()

	c.CollectTick(context.Background())

	// Bars 1 and 2 predate the stored high-water mark; only bar 3 announces.
	bar := <-c.Events()
	assert.Equal(t, int64(900_000), bar.TS)
	select {
	case extra := <-c.Events():
		t.Fatalf("unexpected extra event at %d", extra.TS)
	default:
	}
}
