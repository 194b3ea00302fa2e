package gateway

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/finance-tracker/internal/finance"
)

func malformed(kind, id, field string, err error) error {
	return fmt.Errorf("%w: %s %q: %s: %v", ErrMalformedRow, kind, id, field, err)
}

func parseDecimal(kind, id, field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, malformed(kind, id, field, err)
	}
	if d.IsNegative() {
		return decimal.Zero, malformed(kind, id, field, finance.ErrNegativeAmount)
	}
	return d, nil
}

func parseTimestamp(kind, id, field, s string) (time.Time, error) {
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, malformed(kind, id, field, err)
	}
	return t, nil
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s without id", ErrMalformedRow, kind)
	}
	return nil
}

// ReceiptToRow converts a receipt into its stored form for userID
func ReceiptToRow(userID string, r finance.Receipt) (ReceiptRow, error) {
	items := r.Items
	if items == nil {
		items = []finance.ReceiptItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return ReceiptRow{}, fmt.Errorf("marshaling receipt items: %w", err)
	}

	return ReceiptRow{
		ID:        r.ID,
		UserID:    userID,
		Date:      FormatTime(r.Date),
		Total:     r.Total.String(),
		Items:     string(data),
		Category:  string(r.Category),
		ImageURL:  r.ImageURL,
		Notes:     r.Notes,
		CreatedAt: FormatTime(r.CreatedAt),
		UpdatedAt: FormatTime(r.UpdatedAt),
	}, nil
}

// ReceiptFromRow converts a stored row into a receipt
func ReceiptFromRow(row ReceiptRow) (finance.Receipt, error) {
	const kind = "receipt"
	if err := requireID(kind, row.ID); err != nil {
		return finance.Receipt{}, err
	}

	r := finance.Receipt{
		ID:       row.ID,
		Category: finance.Category(row.Category),
		ImageURL: row.ImageURL,
		Notes:    row.Notes,
		Items:    []finance.ReceiptItem{},
	}
	if !r.Category.Valid() {
		return finance.Receipt{}, malformed(kind, row.ID, "category", fmt.Errorf("unknown category %q", row.Category))
	}

	var err error
	if r.Date, err = parseTimestamp(kind, row.ID, "date", row.Date); err != nil {
		return finance.Receipt{}, err
	}
	if r.Total, err = parseDecimal(kind, row.ID, "total", row.Total); err != nil {
		return finance.Receipt{}, err
	}
	if r.CreatedAt, err = parseTimestamp(kind, row.ID, "created_at", row.CreatedAt); err != nil {
		return finance.Receipt{}, err
	}
	if r.UpdatedAt, err = parseTimestamp(kind, row.ID, "updated_at", row.UpdatedAt); err != nil {
		return finance.Receipt{}, err
	}

	if strings.TrimSpace(row.Items) != "" {
		if err := json.Unmarshal([]byte(row.Items), &r.Items); err != nil {
			return finance.Receipt{}, malformed(kind, row.ID, "items", err)
		}
		if r.Items == nil {
			r.Items = []finance.ReceiptItem{}
		}
	}
	for _, item := range r.Items {
		if item.Price.IsNegative() {
			return finance.Receipt{}, malformed(kind, row.ID, "items", finance.ErrNegativeAmount)
		}
		if !item.Category.Valid() {
			return finance.Receipt{}, malformed(kind, row.ID, "items", fmt.Errorf("unknown category %q", item.Category))
		}
	}

	return r, nil
}

// BudgetToRow converts a budget into its stored form for userID
func BudgetToRow(userID string, b finance.Budget) BudgetRow {
	return BudgetRow{
		ID:       b.ID,
		UserID:   userID,
		Category: string(b.Category),
		Limit:    b.Limit.String(),
		Spent:    b.Spent.String(),
		Period:   string(b.Period),
	}
}

// BudgetFromRow converts a stored row into a budget
func BudgetFromRow(row BudgetRow) (finance.Budget, error) {
	const kind = "budget"
	if err := requireID(kind, row.ID); err != nil {
		return finance.Budget{}, err
	}

	b := finance.Budget{
		ID:       row.ID,
		Category: finance.Category(row.Category),
		Period:   finance.Period(row.Period),
	}
	if !b.Category.Valid() {
		return finance.Budget{}, malformed(kind, row.ID, "category", fmt.Errorf("unknown category %q", row.Category))
	}
	if !b.Period.Valid() {
		return finance.Budget{}, malformed(kind, row.ID, "period", fmt.Errorf("unknown period %q", row.Period))
	}

	var err error
	if b.Limit, err = parseDecimal(kind, row.ID, "limit", row.Limit); err != nil {
		return finance.Budget{}, err
	}
	if b.Spent, err = parseDecimal(kind, row.ID, "spent", row.Spent); err != nil {
		return finance.Budget{}, err
	}
	return b, nil
}

// ShoppingListToRows splits a shopping list into its list row and item rows
func ShoppingListToRows(userID string, l finance.ShoppingList) (ShoppingListRow, []ShoppingItemRow) {
	list := ShoppingListRow{
		ID:        l.ID,
		UserID:    userID,
		Name:      l.Name,
		CreatedAt: FormatTime(l.CreatedAt),
		UpdatedAt: FormatTime(l.UpdatedAt),
	}

	items := make([]ShoppingItemRow, 0, len(l.Items))
	for i, item := range l.Items {
		items = append(items, ShoppingItemRow{
			ID:        item.ID,
			UserID:    userID,
			ListID:    l.ID,
			Position:  i,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Completed: item.Completed,
		})
	}
	return list, items
}

// ShoppingListsFromRows joins list rows with their item rows. Lists keep the
// order of lists; items are ordered by position. Items of unknown lists are
// ignored.
func ShoppingListsFromRows(lists []ShoppingListRow, items []ShoppingItemRow) ([]finance.ShoppingList, error) {
	const kind = "shopping list"

	byList := make(map[string][]ShoppingItemRow, len(lists))
	for _, item := range items {
		if err := requireID("shopping item", item.ID); err != nil {
			return nil, err
		}
		byList[item.ListID] = append(byList[item.ListID], item)
	}

	out := make([]finance.ShoppingList, 0, len(lists))
	for _, row := range lists {
		if err := requireID(kind, row.ID); err != nil {
			return nil, err
		}
		createdAt, err := parseTimestamp(kind, row.ID, "created_at", row.CreatedAt)
		if err != nil {
			return nil, err
		}
		updatedAt, err := parseTimestamp(kind, row.ID, "updated_at", row.UpdatedAt)
		if err != nil {
			return nil, err
		}

		rows := byList[row.ID]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })

		list := finance.ShoppingList{
			ID:        row.ID,
			Name:      row.Name,
			Items:     make([]finance.ShoppingItem, 0, len(rows)),
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		}
		for _, item := range rows {
			if item.Quantity < 0 {
				return nil, malformed("shopping item", item.ID, "quantity", fmt.Errorf("negative quantity %d", item.Quantity))
			}
			list.Items = append(list.Items, finance.ShoppingItem{
				ID:        item.ID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				Completed: item.Completed,
			})
		}
		out = append(out, list)
	}
	return out, nil
}
