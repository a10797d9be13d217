// Package snapshots persists the per-stock daily state and builds the daily
// report and trend views on top of it.
package snapshots

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/database"
	"github.com/shaoq/stockwatch/internal/domain"
)

// Row is one stored snapshot.
type Row struct {
	StockID   int64
	Date      string
	Price     float64
	MAResults map[string]domain.MAResult
}

// Repository is the snapshot store.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates the snapshot repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "snapshot_store").Logger()}
}

// Exists reports whether a snapshot is stored for the stock and date.
func (r *Repository) Exists(stockID int64, date string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM stock_snapshots WHERE stock_id = ? AND snapshot_date = ?",
		stockID, date).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot: %w", err)
	}
	return count > 0, nil
}

// Upsert writes or replaces the snapshot for one stock and date.
func (r *Repository) Upsert(stockID int64, date string, price float64, maResults map[string]domain.MAResult) error {
	encoded, err := json.Marshal(maResults)
	if err != nil {
		return fmt.Errorf("failed to encode ma results: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO stock_snapshots (stock_id, snapshot_date, price, ma_results)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (stock_id, snapshot_date) DO UPDATE SET price = excluded.price, ma_results = excluded.ma_results`,
		stockID, date, price, string(encoded))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ByDate returns every snapshot stored for one date.
func (r *Repository) ByDate(date string) ([]Row, error) {
	rows, err := r.db.Query(
		"SELECT stock_id, snapshot_date, price, ma_results FROM stock_snapshots WHERE snapshot_date = ? ORDER BY stock_id",
		date)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// LatestBefore returns, per stock, the most recent snapshot strictly before
// the given date.
func (r *Repository) LatestBefore(date string) (map[int64]Row, error) {
	rows, err := r.db.Query(
		`SELECT s.stock_id, s.snapshot_date, s.price, s.ma_results
		 FROM stock_snapshots s
		 JOIN (SELECT stock_id, MAX(snapshot_date) AS d FROM stock_snapshots WHERE snapshot_date < ? GROUP BY stock_id) m
		   ON m.stock_id = s.stock_id AND m.d = s.snapshot_date`,
		date)
	if err != nil {
		return nil, fmt.Errorf("failed to query previous snapshots: %w", err)
	}
	defer rows.Close()

	parsed, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Row, len(parsed))
	for _, row := range parsed {
		out[row.StockID] = row
	}
	return out, nil
}

// Dates lists every date with snapshots, newest first.
func (r *Repository) Dates() ([]string, error) {
	rows, err := r.db.Query(
		"SELECT DISTINCT snapshot_date FROM stock_snapshots ORDER BY snapshot_date DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot dates: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot date: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Adjacent returns the nearest snapshot dates on either side of date.
func (r *Repository) Adjacent(date string) (prev, next *string, err error) {
	var p, n sql.NullString
	err = r.db.QueryRow(
		"SELECT MAX(snapshot_date) FROM stock_snapshots WHERE snapshot_date < ?", date).Scan(&p)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("failed to query previous date: %w", err)
	}
	err = r.db.QueryRow(
		"SELECT MIN(snapshot_date) FROM stock_snapshots WHERE snapshot_date > ?", date).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("failed to query next date: %w", err)
	}
	if p.Valid {
		prev = &p.String
	}
	if n.Valid {
		next = &n.String
	}
	return prev, next, nil
}

// CountForDate counts the snapshots stored for one date.
func (r *Repository) CountForDate(date string) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM stock_snapshots WHERE snapshot_date = ?", date).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var (
			row     Row
			encoded string
		)
		if err := rows.Scan(&row.StockID, &row.Date, &row.Price, &encoded); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		row.MAResults = map[string]domain.MAResult{}
		if encoded != "" {
			if err := json.Unmarshal([]byte(encoded), &row.MAResults); err != nil {
				return nil, fmt.Errorf("failed to decode ma results: %w", err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
