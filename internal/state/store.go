// Package state holds the in-memory mirror of one user's data. Every mutation
// writes through the gateway first and touches memory only after the write
// succeeded, so a failed write leaves the loaded data as it was.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/finance-tracker/internal/finance"
	"github.com/zombor/finance-tracker/internal/gateway"
)

var (
	// ErrNoUser is returned when the store is used before Initialize
	ErrNoUser = errors.New("no user")

	// ErrNotFound is returned when an id is not part of the loaded state
	ErrNotFound = gateway.ErrNotFound

	// ErrConflict is returned when a written id is held by another row
	ErrConflict = gateway.ErrConflict
)

// TimeSource returns the current time
type TimeSource func() time.Time

// Store is the state of one authenticated user
type Store struct {
	gw  gateway.Gateway
	now TimeSource

	mu            sync.RWMutex
	userID        string
	receipts      []finance.Receipt
	budgets       []finance.Budget
	shoppingLists []finance.ShoppingList
}

// New creates an empty store writing through gw
func New(gw gateway.Gateway, now TimeSource) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		gw:            gw,
		now:           now,
		receipts:      []finance.Receipt{},
		budgets:       []finance.Budget{},
		shoppingLists: []finance.ShoppingList{},
	}
}

// Initialize loads every collection of userID. The loaded state is replaced
// only when all loads succeed.
func (s *Store) Initialize(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoUser
	}

	var (
		receiptRows []gateway.ReceiptRow
		budgetRows  []gateway.BudgetRow
		listRows    []gateway.ShoppingListRow
		itemRows    []gateway.ShoppingItemRow
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		receiptRows, err = s.gw.SelectReceipts(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		budgetRows, err = s.gw.SelectBudgets(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		listRows, err = s.gw.SelectShoppingLists(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		itemRows, err = s.gw.SelectShoppingItems(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("loading user data: %w", err)
	}

	receipts := make([]finance.Receipt, 0, len(receiptRows))
	for _, row := range receiptRows {
		r, err := gateway.ReceiptFromRow(row)
		if err != nil {
			return err
		}
		receipts = append(receipts, r)
	}

	budgets := make([]finance.Budget, 0, len(budgetRows))
	for _, row := range budgetRows {
		b, err := gateway.BudgetFromRow(row)
		if err != nil {
			return err
		}
		budgets = append(budgets, b)
	}

	lists, err := gateway.ShoppingListsFromRows(listRows, itemRows)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.userID = userID
	s.receipts = receipts
	s.budgets = budgets
	s.shoppingLists = lists
	s.mu.Unlock()

	slog.InfoContext(ctx, "Loaded user data",
		"user_id", userID,
		"receipts", len(receipts),
		"budgets", len(budgets),
		"shopping_lists", len(lists))

	return nil
}

// UserID returns the user the store was initialised for
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Store) user() (string, error) {
	id := s.UserID()
	if id == "" {
		return "", ErrNoUser
	}
	return id, nil
}

func cloneReceipt(r finance.Receipt) finance.Receipt {
	r.Items = slices.Clone(r.Items)
	if r.Items == nil {
		r.Items = []finance.ReceiptItem{}
	}
	return r
}

func cloneList(l finance.ShoppingList) finance.ShoppingList {
	l.Items = slices.Clone(l.Items)
	if l.Items == nil {
		l.Items = []finance.ShoppingItem{}
	}
	return l
}

// Receipts returns a copy of the receipts in insertion order
func (s *Store) Receipts() []finance.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]finance.Receipt, len(s.receipts))
	for i, r := range s.receipts {
		out[i] = cloneReceipt(r)
	}
	return out
}

// Receipt looks up a receipt by id
func (s *Store) Receipt(id string) (finance.Receipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.receipts {
		if r.ID == id {
			return cloneReceipt(r), true
		}
	}
	return finance.Receipt{}, false
}

// Budgets returns a copy of the budgets
func (s *Store) Budgets() []finance.Budget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.budgets)
}

// ShoppingLists returns a copy of the shopping lists
func (s *Store) ShoppingLists() []finance.ShoppingList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]finance.ShoppingList, len(s.shoppingLists))
	for i, l := range s.shoppingLists {
		out[i] = cloneList(l)
	}
	return out
}

// AddReceipt persists r and appends it
func (s *Store) AddReceipt(ctx context.Context, r finance.Receipt) (finance.Receipt, error) {
	userID, err := s.user()
	if err != nil {
		return finance.Receipt{}, err
	}

	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	r = cloneReceipt(r)
	if err := r.Validate(); err != nil {
		return finance.Receipt{}, err
	}

	row, err := gateway.ReceiptToRow(userID, r)
	if err != nil {
		return finance.Receipt{}, err
	}
	if err := s.gw.InsertReceipt(ctx, row); err != nil {
		return finance.Receipt{}, fmt.Errorf("inserting receipt: %w", err)
	}

	s.mu.Lock()
	s.receipts = append(s.receipts, r)
	s.mu.Unlock()

	return cloneReceipt(r), nil
}

// UpdateReceipt replaces the receipt with the same id. The creation time is kept.
func (s *Store) UpdateReceipt(ctx context.Context, r finance.Receipt) (finance.Receipt, error) {
	userID, err := s.user()
	if err != nil {
		return finance.Receipt{}, err
	}

	existing, ok := s.Receipt(r.ID)
	if !ok {
		return finance.Receipt{}, fmt.Errorf("receipt %q: %w", r.ID, ErrNotFound)
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.now()
	r = cloneReceipt(r)
	if err := r.Validate(); err != nil {
		return finance.Receipt{}, err
	}

	row, err := gateway.ReceiptToRow(userID, r)
	if err != nil {
		return finance.Receipt{}, err
	}
	if err := s.gw.UpdateReceipt(ctx, row); err != nil {
		return finance.Receipt{}, fmt.Errorf("updating receipt: %w", err)
	}

	s.mu.Lock()
	for i := range s.receipts {
		if s.receipts[i].ID == r.ID {
			s.receipts[i] = r
			break
		}
	}
	s.mu.Unlock()

	return cloneReceipt(r), nil
}

// DeleteReceipt removes a receipt and returns what was removed
func (s *Store) DeleteReceipt(ctx context.Context, id string) (finance.Receipt, error) {
	userID, err := s.user()
	if err != nil {
		return finance.Receipt{}, err
	}

	existing, ok := s.Receipt(id)
	if !ok {
		return finance.Receipt{}, fmt.Errorf("receipt %q: %w", id, ErrNotFound)
	}
	if err := s.gw.DeleteReceipt(ctx, userID, id); err != nil {
		return finance.Receipt{}, fmt.Errorf("deleting receipt: %w", err)
	}

	s.mu.Lock()
	s.receipts = slices.DeleteFunc(s.receipts, func(r finance.Receipt) bool { return r.ID == id })
	s.mu.Unlock()

	return existing, nil
}

// UpdateBudget upserts b. An unknown budget is appended.
func (s *Store) UpdateBudget(ctx context.Context, b finance.Budget) (finance.Budget, error) {
	userID, err := s.user()
	if err != nil {
		return finance.Budget{}, err
	}
	if err := b.Validate(); err != nil {
		return finance.Budget{}, err
	}

	if err := s.gw.UpsertBudget(ctx, gateway.BudgetToRow(userID, b)); err != nil {
		return finance.Budget{}, fmt.Errorf("upserting budget: %w", err)
	}

	s.mu.Lock()
	i := slices.IndexFunc(s.budgets, func(existing finance.Budget) bool { return existing.ID == b.ID })
	if i >= 0 {
		s.budgets[i] = b
	} else {
		s.budgets = append(s.budgets, b)
	}
	s.mu.Unlock()

	return b, nil
}

// AddShoppingList persists a new list with its items and appends it
func (s *Store) AddShoppingList(ctx context.Context, l finance.ShoppingList) (finance.ShoppingList, error) {
	userID, err := s.user()
	if err != nil {
		return finance.ShoppingList{}, err
	}

	now := s.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = l.CreatedAt
	l = cloneList(l)
	if err := l.Validate(); err != nil {
		return finance.ShoppingList{}, err
	}

	list, items := gateway.ShoppingListToRows(userID, l)
	if err := s.gw.InsertShoppingList(ctx, list); err != nil {
		return finance.ShoppingList{}, fmt.Errorf("inserting shopping list: %w", err)
	}
	if len(items) > 0 {
		if err := s.gw.UpsertShoppingItems(ctx, userID, l.ID, items); err != nil {
			// Leave no half-written list behind
			if delErr := s.gw.DeleteShoppingList(ctx, userID, l.ID); delErr != nil {
				slog.ErrorContext(ctx, "Failed to remove shopping list after item write failure",
					"list_id", l.ID, "error", delErr)
			}
			return finance.ShoppingList{}, fmt.Errorf("inserting shopping items: %w", err)
		}
	}

	s.mu.Lock()
	s.shoppingLists = append(s.shoppingLists, l)
	s.mu.Unlock()

	return cloneList(l), nil
}

// UpdateShoppingList renames the list and writes its item set
func (s *Store) UpdateShoppingList(ctx context.Context, l finance.ShoppingList) (finance.ShoppingList, error) {
	userID, err := s.user()
	if err != nil {
		return finance.ShoppingList{}, err
	}

	var existing finance.ShoppingList
	s.mu.RLock()
	i := slices.IndexFunc(s.shoppingLists, func(x finance.ShoppingList) bool { return x.ID == l.ID })
	if i >= 0 {
		existing = s.shoppingLists[i]
	}
	s.mu.RUnlock()
	if i < 0 {
		return finance.ShoppingList{}, fmt.Errorf("shopping list %q: %w", l.ID, ErrNotFound)
	}

	l.CreatedAt = existing.CreatedAt
	l.UpdatedAt = s.now()
	l = cloneList(l)
	if err := l.Validate(); err != nil {
		return finance.ShoppingList{}, err
	}

	list, items := gateway.ShoppingListToRows(userID, l)
	if err := s.gw.UpdateShoppingList(ctx, list); err != nil {
		return finance.ShoppingList{}, fmt.Errorf("updating shopping list: %w", err)
	}
	if err := s.gw.UpsertShoppingItems(ctx, userID, l.ID, items); err != nil {
		// Put the previous name back so storage matches memory
		prev, _ := gateway.ShoppingListToRows(userID, existing)
		if restoreErr := s.gw.UpdateShoppingList(ctx, prev); restoreErr != nil {
			slog.ErrorContext(ctx, "Failed to restore shopping list after item write failure",
				"list_id", l.ID, "error", restoreErr)
		}
		return finance.ShoppingList{}, fmt.Errorf("upserting shopping items: %w", err)
	}

	s.mu.Lock()
	for j := range s.shoppingLists {
		if s.shoppingLists[j].ID == l.ID {
			s.shoppingLists[j] = l
			break
		}
	}
	s.mu.Unlock()

	return cloneList(l), nil
}

// DeleteShoppingList removes a list and its items
func (s *Store) DeleteShoppingList(ctx context.Context, id string) error {
	userID, err := s.user()
	if err != nil {
		return err
	}
	if err := s.gw.DeleteShoppingList(ctx, userID, id); err != nil {
		return fmt.Errorf("deleting shopping list: %w", err)
	}

	s.mu.Lock()
	s.shoppingLists = slices.DeleteFunc(s.shoppingLists, func(l finance.ShoppingList) bool { return l.ID == id })
	s.mu.Unlock()

	return nil
}
