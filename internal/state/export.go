package state

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the exported workbook
const (
	ReceiptsSheet      = "Receipts"
	BudgetsSheet       = "Budgets"
	ShoppingListsSheet = "Shopping Lists"
)

const exportDateLayout = "2006-01-02"

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// Export writes the loaded collections as an xlsx workbook with one sheet per
// collection
func (s *Store) Export(w io.Writer) error {
	receipts := s.Receipts()
	budgets := s.Budgets()
	lists := s.ShoppingLists()

	f := excelize.NewFile()
	defer f.Close()

	// A new file starts with "Sheet1"; rename it so the order is stable
	if err := f.SetSheetName(f.GetSheetName(0), ReceiptsSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	for _, name := range []string{BudgetsSheet, ShoppingListsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}
	f.SetActiveSheet(0)

	if err := writeRow(f, ReceiptsSheet, 1, []any{"ID", "Date", "Total", "Category", "Items", "Notes", "Image", "Created At", "Updated At"}); err != nil {
		return err
	}
	for i, r := range receipts {
		items := make([]string, 0, len(r.Items))
		for _, item := range r.Items {
			items = append(items, fmt.Sprintf("%dx %s @ %s", item.Quantity, item.Name, item.Price.StringFixed(2)))
		}
		total, _ := r.Total.Float64()
		err := writeRow(f, ReceiptsSheet, i+2, []any{
			r.ID,
			r.Date.UTC().Format(exportDateLayout),
			total,
			string(r.Category),
			strings.Join(items, "; "),
			r.Notes,
			r.ImageURL,
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			r.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
		if err != nil {
			return fmt.Errorf("writing receipt %s: %w", r.ID, err)
		}
	}

	if err := writeRow(f, BudgetsSheet, 1, []any{"ID", "Category", "Limit", "Spent", "Period"}); err != nil {
		return err
	}
	for i, b := range budgets {
		limit, _ := b.Limit.Float64()
		spent, _ := b.Spent.Float64()
		if err := writeRow(f, BudgetsSheet, i+2, []any{b.ID, string(b.Category), limit, spent, string(b.Period)}); err != nil {
			return fmt.Errorf("writing budget %s: %w", b.ID, err)
		}
	}

	if err := writeRow(f, ShoppingListsSheet, 1, []any{"List ID", "List", "Item", "Quantity", "Completed"}); err != nil {
		return err
	}
	row := 2
	for _, l := range lists {
		if len(l.Items) == 0 {
			if err := writeRow(f, ShoppingListsSheet, row, []any{l.ID, l.Name}); err != nil {
				return fmt.Errorf("writing shopping list %s: %w", l.ID, err)
			}
			row++
			continue
		}
		for _, item := range l.Items {
			if err := writeRow(f, ShoppingListsSheet, row, []any{l.ID, l.Name, item.Name, item.Quantity, item.Completed}); err != nil {
				return fmt.Errorf("writing shopping list %s: %w", l.ID, err)
			}
			row++
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
