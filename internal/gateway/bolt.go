package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptsBucket      = "receipts"
	budgetsBucket       = "budgets"
	shoppingListsBucket = "shopping_lists"
	shoppingItemsBucket = "shopping_items"
)

// Bolt stores rows in an embedded BoltDB file. Each collection is a top level
// bucket holding one nested bucket per user, keyed by row id.
type Bolt struct {
	db *bbolt.DB
}

var _ Gateway = (*Bolt)(nil)

// NewBolt opens or creates the database at path
func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptsBucket, budgetsBucket, shoppingListsBucket, shoppingItemsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

func userBucket(tx *bbolt.Tx, collection, userID string) *bbolt.Bucket {
	return tx.Bucket([]byte(collection)).Bucket([]byte(userID))
}

func createUserBucket(tx *bbolt.Tx, collection, userID string) (*bbolt.Bucket, error) {
	if userID == "" {
		return nil, fmt.Errorf("%s: user id is required", collection)
	}
	return tx.Bucket([]byte(collection)).CreateBucketIfNotExists([]byte(userID))
}

func selectRows[T any](db *bbolt.DB, collection, userID string) ([]T, error) {
	rows := make([]T, 0)
	err := db.View(func(tx *bbolt.Tx) error {
		bucket := userBucket(tx, collection, userID)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var row T
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("%w: %s %q: %v", ErrMalformedRow, collection, k, err)
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// put stores row under id. When mustExist is set the key has to be present already.
func put(tx *bbolt.Tx, collection, userID, id string, row any, mustExist bool) error {
	bucket, err := createUserBucket(tx, collection, userID)
	if err != nil {
		return err
	}
	if mustExist && bucket.Get([]byte(id)) == nil {
		return fmt.Errorf("%s %q: %w", collection, id, ErrNotFound)
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", collection, err)
	}
	return bucket.Put([]byte(id), data)
}

func remove(tx *bbolt.Tx, collection, userID, id string) error {
	bucket := userBucket(tx, collection, userID)
	if bucket == nil || bucket.Get([]byte(id)) == nil {
		return fmt.Errorf("%s %q: %w", collection, id, ErrNotFound)
	}
	return bucket.Delete([]byte(id))
}

func (b *Bolt) SelectReceipts(ctx context.Context, userID string) ([]ReceiptRow, error) {
	rows, err := selectRows[ReceiptRow](b.db, receiptsBucket, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt != rows[j].CreatedAt {
			return rows[i].CreatedAt < rows[j].CreatedAt
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}

func (b *Bolt) InsertReceipt(ctx context.Context, row ReceiptRow) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := createUserBucket(tx, receiptsBucket, row.UserID)
		if err != nil {
			return err
		}
		if bucket.Get([]byte(row.ID)) != nil {
			return fmt.Errorf("receipt %q already exists", row.ID)
		}
		return put(tx, receiptsBucket, row.UserID, row.ID, row, false)
	})
}

func (b *Bolt) UpdateReceipt(ctx context.Context, row ReceiptRow) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, receiptsBucket, row.UserID, row.ID, row, true)
	})
}

func (b *Bolt) DeleteReceipt(ctx context.Context, userID, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return remove(tx, receiptsBucket, userID, id)
	})
}

func (b *Bolt) SelectBudgets(ctx context.Context, userID string) ([]BudgetRow, error) {
	rows, err := selectRows[BudgetRow](b.db, budgetsBucket, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}

func (b *Bolt) UpsertBudget(ctx context.Context, row BudgetRow) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, budgetsBucket, row.UserID, row.ID, row, false)
	})
}

func (b *Bolt) SelectShoppingLists(ctx context.Context, userID string) ([]ShoppingListRow, error) {
	rows, err := selectRows[ShoppingListRow](b.db, shoppingListsBucket, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt != rows[j].CreatedAt {
			return rows[i].CreatedAt < rows[j].CreatedAt
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}

func (b *Bolt) InsertShoppingList(ctx context.Context, row ShoppingListRow) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := createUserBucket(tx, shoppingListsBucket, row.UserID)
		if err != nil {
			return err
		}
		if bucket.Get([]byte(row.ID)) != nil {
			return fmt.Errorf("shopping list %q already exists", row.ID)
		}
		return put(tx, shoppingListsBucket, row.UserID, row.ID, row, false)
	})
}

func (b *Bolt) UpdateShoppingList(ctx context.Context, row ShoppingListRow) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, shoppingListsBucket, row.UserID, row.ID, row, true)
	})
}

func (b *Bolt) DeleteShoppingList(ctx context.Context, userID, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := remove(tx, shoppingListsBucket, userID, id); err != nil {
			return err
		}
		return deleteItemsOf(tx, userID, id, nil)
	})
}

// deleteItemsOf removes the items of listID whose ids are not in keep
func deleteItemsOf(tx *bbolt.Tx, userID, listID string, keep map[string]bool) error {
	bucket := userBucket(tx, shoppingItemsBucket, userID)
	if bucket == nil {
		return nil
	}

	// Keys are collected first; bbolt does not allow deleting while iterating
	var doomed [][]byte
	err := bucket.ForEach(func(k, v []byte) error {
		var row ShoppingItemRow
		if err := json.Unmarshal(v, &row); err != nil {
			return fmt.Errorf("%w: shopping item %q: %v", ErrMalformedRow, k, err)
		}
		if row.ListID == listID && !keep[row.ID] {
			doomed = append(doomed, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range doomed {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// claimItem fails when id is stored under a different list. Other users'
// items live in their own bucket and never collide.
func claimItem(tx *bbolt.Tx, userID, listID, id string) error {
	bucket := userBucket(tx, shoppingItemsBucket, userID)
	if bucket == nil {
		return nil
	}
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil
	}
	var existing ShoppingItemRow
	if err := json.Unmarshal(data, &existing); err != nil {
		return fmt.Errorf("%w: shopping item %q: %v", ErrMalformedRow, id, err)
	}
	if existing.ListID != listID {
		return fmt.Errorf("shopping item %q: %w", id, ErrConflict)
	}
	return nil
}

func (b *Bolt) SelectShoppingItems(ctx context.Context, userID string) ([]ShoppingItemRow, error) {
	rows, err := selectRows[ShoppingItemRow](b.db, shoppingItemsBucket, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ListID != rows[j].ListID {
			return rows[i].ListID < rows[j].ListID
		}
		return rows[i].Position < rows[j].Position
	})
	return rows, nil
}

func (b *Bolt) UpsertShoppingItems(ctx context.Context, userID, listID string, rows []ShoppingItemRow) error {
	if err := checkItemIDs(rows); err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		keep := make(map[string]bool, len(rows))
		for _, row := range rows {
			row.UserID = userID
			row.ListID = listID
			if err := claimItem(tx, userID, listID, row.ID); err != nil {
				return err
			}
			if err := put(tx, shoppingItemsBucket, userID, row.ID, row, false); err != nil {
				return err
			}
			keep[row.ID] = true
		}
		return deleteItemsOf(tx, userID, listID, keep)
	})
}

// Close closes the database file
func (b *Bolt) Close() error {
	return b.db.Close()
}
