package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category classifies receipts, receipt items and budgets
type Category string

const (
	Groceries     Category = "groceries"
	Utilities     Category = "utilities"
	Entertainment Category = "entertainment"
	Dining        Category = "dining"
	Transport     Category = "transport"
	Healthcare    Category = "healthcare"
	Shopping      Category = "shopping"
	Other         Category = "other"
)

// Categories lists every valid category in display order
var Categories = []Category{
	Groceries,
	Utilities,
	Entertainment,
	Dining,
	Transport,
	Healthcare,
	Shopping,
	Other,
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Period is the recurrence of a budget
type Period string

const (
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

// Valid reports whether p is a known budget period
func (p Period) Valid() bool {
	return p == Weekly || p == Monthly || p == Yearly
}

// Receipt is a purchase record, created by the ingestion pipeline or by hand
type Receipt struct {
	ID        string          `json:"id" validate:"required"`
	Date      time.Time       `json:"date" validate:"required"`
	Total     decimal.Decimal `json:"total"`
	Items     []ReceiptItem   `json:"items" validate:"dive"`
	Category  Category        `json:"category" validate:"category"`
	ImageURL  string          `json:"image_url,omitempty"`
	Notes     string          `json:"notes,omitempty" validate:"max=2000"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ReceiptItem is a single line of a receipt
type ReceiptItem struct {
	ID       string          `json:"id" validate:"required"`
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" validate:"min=0"`
	Category Category        `json:"category" validate:"category"`
}

// Budget caps spending for a category over a period.
// Spent is maintained outside the ingestion pipeline.
type Budget struct {
	ID       string          `json:"id" validate:"required"`
	Category Category        `json:"category" validate:"category"`
	Limit    decimal.Decimal `json:"limit"`
	Spent    decimal.Decimal `json:"spent"`
	Period   Period          `json:"period" validate:"period"`
}

// ShoppingList is a named, ordered list of things to buy
type ShoppingList struct {
	ID        string         `json:"id" validate:"required"`
	Name      string         `json:"name" validate:"required,max=200"`
	Items     []ShoppingItem `json:"items" validate:"unique=ID,dive"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ShoppingItem is an entry of a shopping list
type ShoppingItem struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required,max=200"`
	Quantity  int    `json:"quantity" validate:"min=1"`
	Completed bool   `json:"completed"`
}
