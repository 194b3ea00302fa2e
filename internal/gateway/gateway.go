// Package gateway is the row-oriented persistence boundary for receipts,
// budgets, shopping lists and shopping items. Every row carries the id of the
// user it belongs to and every read is filtered by it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an update or delete matches no row of the user
	ErrNotFound = errors.New("row not found")

	// ErrMalformedRow is returned when a stored row cannot be mapped to a domain value
	ErrMalformedRow = errors.New("malformed row")

	// ErrConflict is returned when a written id is already taken by a row of
	// another user or another list
	ErrConflict = errors.New("row id conflict")
)

// TimeLayout is RFC 3339 with a fixed nanosecond fraction, so stored
// timestamps sort lexically in time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Gateway is implemented by each storage back-end
type Gateway interface {
	SelectReceipts(ctx context.Context, userID string) ([]ReceiptRow, error)
	InsertReceipt(ctx context.Context, row ReceiptRow) error
	// UpdateReceipt replaces the row with the same id and user
	UpdateReceipt(ctx context.Context, row ReceiptRow) error
	DeleteReceipt(ctx context.Context, userID, id string) error

	SelectBudgets(ctx context.Context, userID string) ([]BudgetRow, error)
	UpsertBudget(ctx context.Context, row BudgetRow) error

	SelectShoppingLists(ctx context.Context, userID string) ([]ShoppingListRow, error)
	InsertShoppingList(ctx context.Context, row ShoppingListRow) error
	UpdateShoppingList(ctx context.Context, row ShoppingListRow) error
	// DeleteShoppingList removes the list and its items
	DeleteShoppingList(ctx context.Context, userID, id string) error

	SelectShoppingItems(ctx context.Context, userID string) ([]ShoppingItemRow, error)
	// UpsertShoppingItems writes rows as the complete item set of the list.
	// Items of the list that are not in rows are deleted. An id that is
	// repeated or owned by another list fails with ErrConflict.
	UpsertShoppingItems(ctx context.Context, userID, listID string, rows []ShoppingItemRow) error

	Close() error
}

// ReceiptRow is the stored form of a receipt. Items are kept as a JSON array.
type ReceiptRow struct {
	ID        string `gorm:"primaryKey" json:"id"`
	UserID    string `gorm:"index;not null" json:"user_id"`
	Date      string `gorm:"not null" json:"date"`
	Total     string `gorm:"not null" json:"total"`
	Items     string `gorm:"type:text;not null" json:"items"`
	Category  string `gorm:"not null" json:"category"`
	ImageURL  string `json:"image_url"`
	Notes     string `gorm:"type:text" json:"notes"`
	CreatedAt string `gorm:"not null" json:"created_at"`
	UpdatedAt string `gorm:"not null" json:"updated_at"`
}

func (ReceiptRow) TableName() string { return "receipts" }

// BudgetRow is the stored form of a budget
type BudgetRow struct {
	ID       string `gorm:"primaryKey" json:"id"`
	UserID   string `gorm:"index;not null" json:"user_id"`
	Category string `gorm:"not null" json:"category"`
	Limit    string `gorm:"column:limit_amount;not null" json:"limit"`
	Spent    string `gorm:"not null" json:"spent"`
	Period   string `gorm:"not null" json:"period"`
}

func (BudgetRow) TableName() string { return "budgets" }

// ShoppingListRow is the stored form of a shopping list without its items
type ShoppingListRow struct {
	ID        string `gorm:"primaryKey" json:"id"`
	UserID    string `gorm:"index;not null" json:"user_id"`
	Name      string `gorm:"not null" json:"name"`
	CreatedAt string `gorm:"not null" json:"created_at"`
	UpdatedAt string `gorm:"not null" json:"updated_at"`
}

func (ShoppingListRow) TableName() string { return "shopping_lists" }

// ShoppingItemRow is the stored form of a shopping item.
// Position keeps the order of the items within their list.
type ShoppingItemRow struct {
	ID        string `gorm:"primaryKey" json:"id"`
	UserID    string `gorm:"index;not null" json:"user_id"`
	ListID    string `gorm:"index;not null" json:"list_id"`
	Position  int    `gorm:"not null" json:"position"`
	Name      string `gorm:"not null" json:"name"`
	Quantity  int    `gorm:"not null" json:"quantity"`
	Completed bool   `gorm:"not null" json:"completed"`
}

func (ShoppingItemRow) TableName() string { return "shopping_items" }

// FormatTime converts t to its stored form
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads any RFC 3339 timestamp and returns it in UTC
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func checkItemIDs(rows []ShoppingItemRow) error {
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if seen[row.ID] {
			return fmt.Errorf("shopping item %q repeated: %w", row.ID, ErrConflict)
		}
		seen[row.ID] = true
	}
	return nil
}
