// Package store persists candles in an embedded SQLite database. The
// collector is the only writer; the trainer and orchestrator read.
package store

import (
	"database/sql"
	"fmt"

	"hybrid-learning-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// CandleStore wraps the candles.db connection. Tables are versioned by the
// feature schema so that a schema bump starts a fresh table instead of mixing
// incompatible rows.
type CandleStore struct {
	db            *sql.DB
	table         string
	schemaVersion int
}

// Open initializes the database at dataSourceName and creates the table for
// the given schema version if needed.
func Open(dataSourceName string, schemaVersion int) (*CandleStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, models.WrapAppError(models.KindStorageError, err, "opening candle database")
	}
	if err = db.Ping(); err != nil {
		return nil, models.WrapAppError(models.KindStorageError, err, "connecting to candle database")
	}

	s := &CandleStore{
		db:            db,
		table:         fmt.Sprintf("candles_v%d", schemaVersion),
		schemaVersion: schemaVersion,
	}
	if err = s.createTables(); err != nil {
		return nil, models.WrapAppError(models.KindStorageError, err, "creating candle tables")
	}
	return s, nil
}

func (s *CandleStore) createTables() error {
	createCandlesSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		symbol TEXT NOT NULL,
		ts INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (symbol, ts)
	);`, s.table)
	if _, err := s.db.Exec(createCandlesSQL); err != nil {
		return err
	}

	createMetaSQL := `
	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := s.db.Exec(createMetaSQL); err != nil {
		return err
	}

	setVersionSQL := `
	INSERT INTO store_meta (key, value) VALUES ('schema_version', ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value;`
	_, err := s.db.Exec(setVersionSQL, fmt.Sprintf("%d", s.schemaVersion))
	return err
}

// Upsert inserts or replaces the candle keyed by (symbol, ts). Re-upserting
// an identical candle is a no-op at the row level, which makes collection
// ticks idempotent.
func (s *CandleStore) Upsert(c models.Candle) error {
	query := fmt.Sprintf(`
	INSERT INTO %s (symbol, ts, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol, ts) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume;`, s.table)

	if _, err := s.db.Exec(query, c.Symbol, c.TS, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
		return models.WrapAppError(models.KindStorageError, err, "upserting candle %s@%d", c.Symbol, c.TS)
	}
	return nil
}

// LastN returns the most recent n candles for symbol, ascending by ts.
func (s *CandleStore) LastN(symbol string, n int) ([]models.Candle, error) {
	query := fmt.Sprintf(`
	SELECT symbol, ts, open, high, low, close, volume FROM (
		SELECT * FROM %s WHERE symbol = ? ORDER BY ts DESC LIMIT ?
	) ORDER BY ts ASC;`, s.table)

	rows, err := s.db.Query(query, symbol, n)
	if err != nil {
		return nil, models.WrapAppError(models.KindStorageError, err, "querying last %d candles for %s", n, symbol)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// Since returns all candles for symbol with ts >= since, ascending.
func (s *CandleStore) Since(symbol string, since int64) ([]models.Candle, error) {
	query := fmt.Sprintf(`
	SELECT symbol, ts, open, high, low, close, volume FROM %s
	WHERE symbol = ? AND ts >= ? ORDER BY ts ASC;`, s.table)

	rows, err := s.db.Query(query, symbol, since)
	if err != nil {
		return nil, models.WrapAppError(models.KindStorageError, err, "querying candles for %s since %d", symbol, since)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// Count returns the number of stored candles for symbol.
func (s *CandleStore) Count(symbol string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE symbol = ?;`, s.table)
	var count int
	if err := s.db.QueryRow(query, symbol).Scan(&count); err != nil {
		return 0, models.WrapAppError(models.KindStorageError, err, "counting candles for %s", symbol)
	}
	return count, nil
}

// MaxTS returns the newest stored timestamp for symbol, or 0 when empty.
func (s *CandleStore) MaxTS(symbol string) (int64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(ts), 0) FROM %s WHERE symbol = ?;`, s.table)
	var ts int64
	if err := s.db.QueryRow(query, symbol).Scan(&ts); err != nil {
		return 0, models.WrapAppError(models.KindStorageError, err, "querying max ts for %s", symbol)
	}
	return ts, nil
}

// Close closes the underlying database.
func (s *CandleStore) Close() error {
	return s.db.Close()
}

func scanCandles(rows *sql.Rows) ([]models.Candle, error) {
	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Symbol, &c.TS, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, models.WrapAppError(models.KindStorageError, err, "scanning candle row")
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapAppError(models.KindStorageError, err, "iterating candle rows")
	}
	return candles, nil
}
