package gateway

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Postgres stores rows in PostgreSQL through gorm
type Postgres struct {
	db *gorm.DB
}

var _ Gateway = (*Postgres)(nil)

// NewPostgres connects to dsn and migrates the row tables
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := db.AutoMigrate(&ReceiptRow{}, &BudgetRow{}, &ShoppingListRow{}, &ShoppingItemRow{}); err != nil {
		return nil, fmt.Errorf("migrating tables: %w", err)
	}

	return &Postgres{db: db}, nil
}

func rowsAffected(tx *gorm.DB, kind, id string) error {
	if tx.Error != nil {
		return fmt.Errorf("%s %q: %w", kind, id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) SelectReceipts(ctx context.Context, userID string) ([]ReceiptRow, error) {
	rows := make([]ReceiptRow, 0)
	if err := p.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select receipts: %w", err)
	}
	return rows, nil
}

func (p *Postgres) InsertReceipt(ctx context.Context, row ReceiptRow) error {
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateReceipt(ctx context.Context, row ReceiptRow) error {
	tx := p.db.WithContext(ctx).Model(&ReceiptRow{}).
		Where("id = ? AND user_id = ?", row.ID, row.UserID).
		Select("*").Omit("id", "user_id").
		Updates(&row)
	return rowsAffected(tx, "receipt", row.ID)
}

func (p *Postgres) DeleteReceipt(ctx context.Context, userID, id string) error {
	tx := p.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&ReceiptRow{})
	return rowsAffected(tx, "receipt", id)
}

func (p *Postgres) SelectBudgets(ctx context.Context, userID string) ([]BudgetRow, error) {
	rows := make([]BudgetRow, 0)
	if err := p.db.WithContext(ctx).Where("user_id = ?", userID).Order("category, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select budgets: %w", err)
	}
	return rows, nil
}

func (p *Postgres) UpsertBudget(ctx context.Context, row BudgetRow) error {
	tx := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "limit_amount", "spent", "period"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "budgets", Name: "user_id"}, Value: row.UserID},
		}},
	}).Create(&row)
	return rowsAffected(tx, "budget", row.ID)
}

func (p *Postgres) SelectShoppingLists(ctx context.Context, userID string) ([]ShoppingListRow, error) {
	rows := make([]ShoppingListRow, 0)
	if err := p.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select shopping lists: %w", err)
	}
	return rows, nil
}

func (p *Postgres) InsertShoppingList(ctx context.Context, row ShoppingListRow) error {
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert shopping list: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateShoppingList(ctx context.Context, row ShoppingListRow) error {
	tx := p.db.WithContext(ctx).Model(&ShoppingListRow{}).
		Where("id = ? AND user_id = ?", row.ID, row.UserID).
		Updates(map[string]any{"name": row.Name, "updated_at": row.UpdatedAt})
	return rowsAffected(tx, "shopping list", row.ID)
}

func (p *Postgres) DeleteShoppingList(ctx context.Context, userID, id string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("list_id = ? AND user_id = ?", id, userID).Delete(&ShoppingItemRow{}).Error; err != nil {
			return fmt.Errorf("delete shopping items: %w", err)
		}
		return rowsAffected(tx.Where("id = ? AND user_id = ?", id, userID).Delete(&ShoppingListRow{}), "shopping list", id)
	})
}

func (p *Postgres) SelectShoppingItems(ctx context.Context, userID string) ([]ShoppingItemRow, error) {
	rows := make([]ShoppingItemRow, 0)
	if err := p.db.WithContext(ctx).Where("user_id = ?", userID).Order("list_id, position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select shopping items: %w", err)
	}
	return rows, nil
}

func (p *Postgres) UpsertShoppingItems(ctx context.Context, userID, listID string, rows []ShoppingItemRow) error {
	if err := checkItemIDs(rows); err != nil {
		return err
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := make([]ShoppingItemRow, len(rows))
		keep := make([]string, 0, len(rows))
		for i, row := range rows {
			row.UserID = userID
			row.ListID = listID
			items[i] = row
			keep = append(keep, row.ID)
		}

		if len(items) > 0 {
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"position", "name", "quantity", "completed"}),
				Where: clause.Where{Exprs: []clause.Expression{
					clause.Eq{Column: clause.Column{Table: "shopping_items", Name: "user_id"}, Value: userID},
					clause.Eq{Column: clause.Column{Table: "shopping_items", Name: "list_id"}, Value: listID},
				}},
			}).Create(&items)
			if res.Error != nil {
				return fmt.Errorf("upsert shopping items: %w", res.Error)
			}
			// Skipped rows belong to another user or list
			if res.RowsAffected != int64(len(items)) {
				return fmt.Errorf("shopping items of %q: %w", listID, ErrConflict)
			}
		}

		prune := tx.Where("list_id = ? AND user_id = ?", listID, userID)
		if len(keep) > 0 {
			prune = prune.Where("id NOT IN ?", keep)
		}
		if err := prune.Delete(&ShoppingItemRow{}).Error; err != nil {
			return fmt.Errorf("prune shopping items: %w", err)
		}
		return nil
	})
}

// Close closes the underlying connection pool
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	return sqlDB.Close()
}
