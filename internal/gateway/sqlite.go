package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite stores rows in a SQLite database file
type SQLite struct {
	db *sql.DB
}

var _ Gateway = (*SQLite)(nil)

// NewSQLite opens the database at dbPath and applies pending migrations
func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Debug("SQLite gateway ready", "path", dbPath)
	return &SQLite{db: db}, nil
}

func affected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) SelectReceipts(ctx context.Context, userID string) ([]ReceiptRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, date, total, items, category, image_url, notes, created_at, updated_at
		FROM receipts WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("select receipts: %w", err)
	}
	defer rows.Close()

	out := make([]ReceiptRow, 0)
	for rows.Next() {
		var r ReceiptRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.Date, &r.Total, &r.Items, &r.Category,
			&r.ImageURL, &r.Notes, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan receipt: %v", ErrMalformedRow, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertReceipt(ctx context.Context, r ReceiptRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (id, user_id, date, total, items, category, image_url, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Date, r.Total, r.Items, r.Category, r.ImageURL, r.Notes, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateReceipt(ctx context.Context, r ReceiptRow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE receipts
		SET date = ?, total = ?, items = ?, category = ?, image_url = ?, notes = ?, created_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		r.Date, r.Total, r.Items, r.Category, r.ImageURL, r.Notes, r.CreatedAt, r.UpdatedAt, r.ID, r.UserID)
	if err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}
	return affected(res, "receipt", r.ID)
}

func (s *SQLite) DeleteReceipt(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM receipts WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	return affected(res, "receipt", id)
}

func (s *SQLite) SelectBudgets(ctx context.Context, userID string) ([]BudgetRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, limit_amount, spent, period
		FROM budgets WHERE user_id = ? ORDER BY category, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("select budgets: %w", err)
	}
	defer rows.Close()

	out := make([]BudgetRow, 0)
	for rows.Next() {
		var b BudgetRow
		if err := rows.Scan(&b.ID, &b.UserID, &b.Category, &b.Limit, &b.Spent, &b.Period); err != nil {
			return nil, fmt.Errorf("%w: scan budget: %v", ErrMalformedRow, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertBudget(ctx context.Context, b BudgetRow) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO budgets (id, user_id, category, limit_amount, spent, period)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			limit_amount = excluded.limit_amount,
			spent = excluded.spent,
			period = excluded.period
		WHERE budgets.user_id = excluded.user_id`,
		b.ID, b.UserID, b.Category, b.Limit, b.Spent, b.Period)
	if err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	// Zero rows means the id belongs to another user
	return affected(res, "budget", b.ID)
}

func (s *SQLite) SelectShoppingLists(ctx context.Context, userID string) ([]ShoppingListRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, created_at, updated_at
		FROM shopping_lists WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("select shopping lists: %w", err)
	}
	defer rows.Close()

	out := make([]ShoppingListRow, 0)
	for rows.Next() {
		var l ShoppingListRow
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan shopping list: %v", ErrMalformedRow, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertShoppingList(ctx context.Context, l ShoppingListRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shopping_lists (id, user_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.Name, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert shopping list: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateShoppingList(ctx context.Context, l ShoppingListRow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shopping_lists SET name = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		l.Name, l.UpdatedAt, l.ID, l.UserID)
	if err != nil {
		return fmt.Errorf("update shopping list: %w", err)
	}
	return affected(res, "shopping list", l.ID)
}

func (s *SQLite) DeleteShoppingList(ctx context.Context, userID, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM shopping_items WHERE list_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("delete shopping items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM shopping_lists WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete shopping list: %w", err)
	}
	if err = affected(res, "shopping list", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) SelectShoppingItems(ctx context.Context, userID string) ([]ShoppingItemRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, list_id, position, name, quantity, completed
		FROM shopping_items WHERE user_id = ? ORDER BY list_id, position`, userID)
	if err != nil {
		return nil, fmt.Errorf("select shopping items: %w", err)
	}
	defer rows.Close()

	out := make([]ShoppingItemRow, 0)
	for rows.Next() {
		var i ShoppingItemRow
		if err := rows.Scan(&i.ID, &i.UserID, &i.ListID, &i.Position, &i.Name, &i.Quantity, &i.Completed); err != nil {
			return nil, fmt.Errorf("%w: scan shopping item: %v", ErrMalformedRow, err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertShoppingItems(ctx context.Context, userID, listID string, items []ShoppingItemRow) (err error) {
	if err := checkItemIDs(items); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	keep := make([]any, 0, len(items)+2)
	keep = append(keep, listID, userID)
	placeholders := ""
	for _, i := range items {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			INSERT INTO shopping_items (id, user_id, list_id, position, name, quantity, completed)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				position = excluded.position,
				name = excluded.name,
				quantity = excluded.quantity,
				completed = excluded.completed
			WHERE shopping_items.user_id = excluded.user_id
				AND shopping_items.list_id = excluded.list_id`,
			i.ID, userID, listID, i.Position, i.Name, i.Quantity, i.Completed)
		if err != nil {
			return fmt.Errorf("upsert shopping item: %w", err)
		}
		// Zero rows means the id is held by another user or list
		if n, _ := res.RowsAffected(); n == 0 {
			err = fmt.Errorf("shopping item %q: %w", i.ID, ErrConflict)
			return err
		}
		keep = append(keep, i.ID)
		if placeholders != "" {
			placeholders += ", "
		}
		placeholders += "?"
	}

	query := `DELETE FROM shopping_items WHERE list_id = ? AND user_id = ?`
	if placeholders != "" {
		query += ` AND id NOT IN (` + placeholders + `)`
	}
	if _, err = tx.ExecContext(ctx, query, keep...); err != nil {
		return fmt.Errorf("prune shopping items: %w", err)
	}

	return tx.Commit()
}

// Close closes the database
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
