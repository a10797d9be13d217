// Package stocks persists the monitored instruments and their groups.
package stocks

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/database"
	"github.com/shaoq/stockwatch/internal/domain"
)

// ErrNotFound is returned when a stock or group id does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a symbol or group name already exists.
var ErrDuplicate = errors.New("already exists")

// Repository is the stock and group store.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates the stock repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "stock_store").Logger()}
}

const stockColumns = "id, symbol, name, ma_types, current_price, created_at, updated_at"

// Create inserts a new stock. The symbol is stored uppercased; a duplicate
// symbol returns ErrDuplicate.
func (r *Repository) Create(symbol, name string, maTypes []string, groupIDs []int64) (*domain.Stock, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if len(maTypes) == 0 {
		maTypes = []string{"MA5"}
	}

	res, err := r.db.Exec(
		"INSERT INTO stocks (symbol, name, ma_types) VALUES (?, ?, ?)",
		symbol, name, strings.Join(maTypes, ","))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("stock %s %w", symbol, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to insert stock: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read stock id: %w", err)
	}

	for _, gid := range groupIDs {
		if err := r.AddToGroup(id, gid); err != nil {
			return nil, err
		}
	}

	r.log.Info().Str("symbol", symbol).Int64("id", id).Msg("stock added")
	return r.Get(id)
}

// Get returns one stock with its groups.
func (r *Repository) Get(id int64) (*domain.Stock, error) {
	stock, err := r.scanOne(r.db.QueryRow(
		"SELECT "+stockColumns+" FROM stocks WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := r.attachGroups([]*domain.Stock{stock}); err != nil {
		return nil, err
	}
	return stock, nil
}

// GetBySymbol returns one stock by its (case-insensitive) symbol.
func (r *Repository) GetBySymbol(symbol string) (*domain.Stock, error) {
	stock, err := r.scanOne(r.db.QueryRow(
		"SELECT "+stockColumns+" FROM stocks WHERE symbol = ?",
		strings.ToUpper(strings.TrimSpace(symbol))))
	if err != nil {
		return nil, err
	}
	if err := r.attachGroups([]*domain.Stock{stock}); err != nil {
		return nil, err
	}
	return stock, nil
}

// List returns stocks newest-first, optionally filtered by a search term
// (symbol or name substring) and a group. skip/limit page the result;
// limit <= 0 means no cap.
func (r *Repository) List(search string, groupID int64, skip, limit int) ([]domain.Stock, error) {
	q := "SELECT " + stockColumns + " FROM stocks s"
	var where []string
	var args []any

	if groupID > 0 {
		q = "SELECT s.id, s.symbol, s.name, s.ma_types, s.current_price, s.created_at, s.updated_at FROM stocks s" +
			" JOIN stock_group_association a ON a.stock_id = s.id"
		where = append(where, "a.group_id = ?")
		args = append(args, groupID)
	}
	if search = strings.TrimSpace(search); search != "" {
		where = append(where, "(s.symbol LIKE ? OR s.name LIKE ?)")
		pattern := "%" + strings.ToUpper(search) + "%"
		args = append(args, pattern, "%"+search+"%")
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY s.created_at DESC, s.id DESC"
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, skip)
	}

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stocks: %w", err)
	}
	defer rows.Close()

	var out []domain.Stock
	var ptrs []*domain.Stock
	for rows.Next() {
		stock, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *stock)
		ptrs = append(ptrs, &out[len(out)-1])
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachGroups(ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stocks matching the same filters as List.
func (r *Repository) Count(search string, groupID int64) (int, error) {
	q := "SELECT COUNT(*) FROM stocks s"
	var where []string
	var args []any

	if groupID > 0 {
		q += " JOIN stock_group_association a ON a.stock_id = s.id"
		where = append(where, "a.group_id = ?")
		args = append(args, groupID)
	}
	if search = strings.TrimSpace(search); search != "" {
		where = append(where, "(s.symbol LIKE ? OR s.name LIKE ?)")
		pattern := "%" + strings.ToUpper(search) + "%"
		args = append(args, pattern, "%"+search+"%")
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	var count int
	if err := r.db.QueryRow(q, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stocks: %w", err)
	}
	return count, nil
}

// Update changes a stock's name, averages or group membership. Nil slices
// leave the corresponding field untouched.
func (r *Repository) Update(id int64, name *string, maTypes []string, groupIDs []int64) (*domain.Stock, error) {
	if _, err := r.Get(id); err != nil {
		return nil, err
	}

	if name != nil {
		if _, err := r.db.Exec(
			"UPDATE stocks SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", *name, id); err != nil {
			return nil, fmt.Errorf("failed to update stock %d: %w", id, err)
		}
	}
	if maTypes != nil {
		if _, err := r.db.Exec(
			"UPDATE stocks SET ma_types = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			strings.Join(maTypes, ","), id); err != nil {
			return nil, fmt.Errorf("failed to update stock %d: %w", id, err)
		}
	}
	if groupIDs != nil {
		if _, err := r.db.Exec("DELETE FROM stock_group_association WHERE stock_id = ?", id); err != nil {
			return nil, fmt.Errorf("failed to clear groups for stock %d: %w", id, err)
		}
		for _, gid := range groupIDs {
			if err := r.AddToGroup(id, gid); err != nil {
				return nil, err
			}
		}
	}
	return r.Get(id)
}

// UpdatePrice persists a freshly fetched price.
func (r *Repository) UpdatePrice(id int64, price float64) error {
	res, err := r.db.Exec(
		"UPDATE stocks SET current_price = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", price, id)
	if err != nil {
		return fmt.Errorf("failed to update price for stock %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stock %d: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes one stock; snapshots and signals cascade.
func (r *Repository) Delete(id int64) error {
	res, err := r.db.Exec("DELETE FROM stocks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete stock %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stock %d: %w", id, ErrNotFound)
	}
	r.log.Info().Int64("id", id).Msg("stock deleted")
	return nil
}

// DeleteBatch removes many stocks, returning how many existed.
func (r *Repository) DeleteBatch(ids []int64) (int, error) {
	deleted := 0
	for _, id := range ids {
		switch err := r.Delete(id); {
		case err == nil:
			deleted++
		case errors.Is(err, ErrNotFound):
		default:
			return deleted, err
		}
	}
	return deleted, nil
}

// Groups lists every group with its member count.
func (r *Repository) Groups() ([]domain.Group, error) {
	rows, err := r.db.Query(
		`SELECT g.id, g.name, COUNT(a.stock_id)
		 FROM groups g LEFT JOIN stock_group_association a ON a.group_id = g.id
		 GROUP BY g.id, g.name ORDER BY g.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var out []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.StockCount); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// CreateGroup adds a group; duplicate names return ErrDuplicate.
func (r *Repository) CreateGroup(name string) (*domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("group name is required")
	}
	res, err := r.db.Exec("INSERT INTO groups (name) VALUES (?)", name)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("group %q %w", name, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}
	id, _ := res.LastInsertId()
	return &domain.Group{ID: id, Name: name}, nil
}

// RenameGroup changes a group's name.
func (r *Repository) RenameGroup(id int64, name string) error {
	res, err := r.db.Exec("UPDATE groups SET name = ? WHERE id = ?", strings.TrimSpace(name), id)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("group %q %w", name, ErrDuplicate)
		}
		return fmt.Errorf("failed to rename group %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteGroup removes a group; memberships cascade, stocks stay.
func (r *Repository) DeleteGroup(id int64) error {
	res, err := r.db.Exec("DELETE FROM groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete group %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group %d: %w", id, ErrNotFound)
	}
	return nil
}

// AddToGroup links a stock to a group; an existing link is a no-op.
func (r *Repository) AddToGroup(stockID, groupID int64) error {
	var exists int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM groups WHERE id = ?", groupID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check group %d: %w", groupID, err)
	}
	if exists == 0 {
		return fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	_, err := r.db.Exec(
		"INSERT OR IGNORE INTO stock_group_association (stock_id, group_id) VALUES (?, ?)",
		stockID, groupID)
	if err != nil {
		return fmt.Errorf("failed to link stock %d to group %d: %w", stockID, groupID, err)
	}
	return nil
}

// RemoveFromGroup unlinks a stock from a group.
func (r *Repository) RemoveFromGroup(stockID, groupID int64) error {
	_, err := r.db.Exec(
		"DELETE FROM stock_group_association WHERE stock_id = ? AND group_id = ?",
		stockID, groupID)
	if err != nil {
		return fmt.Errorf("failed to unlink stock %d from group %d: %w", stockID, groupID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanOne(row rowScanner) (*domain.Stock, error) {
	var (
		s         domain.Stock
		maTypes   string
		price     sql.NullFloat64
		updatedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.Symbol, &s.Name, &maTypes, &price, &s.CreatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stock %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stock: %w", err)
	}

	for _, ma := range strings.Split(maTypes, ",") {
		if ma = strings.TrimSpace(ma); ma != "" {
			s.MATypes = append(s.MATypes, ma)
		}
	}
	if price.Valid {
		s.CurrentPrice = &price.Float64
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		s.UpdatedAt = &t
	}
	return &s, nil
}

// attachGroups fills GroupIDs and GroupNames for the given stocks with one
// query.
func (r *Repository) attachGroups(stocks []*domain.Stock) error {
	if len(stocks) == 0 {
		return nil
	}
	byID := make(map[int64]*domain.Stock, len(stocks))
	placeholders := make([]string, 0, len(stocks))
	args := make([]any, 0, len(stocks))
	for _, s := range stocks {
		byID[s.ID] = s
		placeholders = append(placeholders, "?")
		args = append(args, s.ID)
	}

	rows, err := r.db.Query(
		`SELECT a.stock_id, g.id, g.name
		 FROM stock_group_association a JOIN groups g ON g.id = a.group_id
		 WHERE a.stock_id IN (`+strings.Join(placeholders, ",")+`) ORDER BY g.name`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to query stock groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stockID, groupID int64
		var name string
		if err := rows.Scan(&stockID, &groupID, &name); err != nil {
			return fmt.Errorf("failed to scan stock group: %w", err)
		}
		if s := byID[stockID]; s != nil {
			s.GroupIDs = append(s.GroupIDs, groupID)
			s.GroupNames = append(s.GroupNames, name)
		}
	}
	return rows.Err()
}
