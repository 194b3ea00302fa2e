package state

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/finance-tracker/internal/finance"
	"github.com/zombor/finance-tracker/internal/gateway"
)

func TestState(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "State Suite")
}

// faultyGateway wraps a real gateway and fails selected calls
type faultyGateway struct {
	gateway.Gateway
	selectBudgetsErr error
	insertReceiptErr error
	updateReceiptErr error
	deleteReceiptErr error
	upsertBudgetErr  error
	upsertItemsErr   error
	deleteListCalls  int
}

func (f *faultyGateway) SelectBudgets(ctx context.Context, userID string) ([]gateway.BudgetRow, error) {
	if f.selectBudgetsErr != nil {
		return nil, f.selectBudgetsErr
	}
	return f.Gateway.SelectBudgets(ctx, userID)
}

func (f *faultyGateway) InsertReceipt(ctx context.Context, row gateway.ReceiptRow) error {
	if f.insertReceiptErr != nil {
		return f.insertReceiptErr
	}
	return f.Gateway.InsertReceipt(ctx, row)
}

func (f *faultyGateway) UpdateReceipt(ctx context.Context, row gateway.ReceiptRow) error {
	if f.updateReceiptErr != nil {
		return f.updateReceiptErr
	}
	return f.Gateway.UpdateReceipt(ctx, row)
}

func (f *faultyGateway) DeleteReceipt(ctx context.Context, userID, id string) error {
	if f.deleteReceiptErr != nil {
		return f.deleteReceiptErr
	}
	return f.Gateway.DeleteReceipt(ctx, userID, id)
}

func (f *faultyGateway) UpsertBudget(ctx context.Context, row gateway.BudgetRow) error {
	if f.upsertBudgetErr != nil {
		return f.upsertBudgetErr
	}
	return f.Gateway.UpsertBudget(ctx, row)
}

func (f *faultyGateway) UpsertShoppingItems(ctx context.Context, userID, listID string, rows []gateway.ShoppingItemRow) error {
	if f.upsertItemsErr != nil {
		return f.upsertItemsErr
	}
	return f.Gateway.UpsertShoppingItems(ctx, userID, listID, rows)
}

func (f *faultyGateway) DeleteShoppingList(ctx context.Context, userID, id string) error {
	f.deleteListCalls++
	return f.Gateway.DeleteShoppingList(ctx, userID, id)
}

func receipt(id, total string, date time.Time) finance.Receipt {
	return finance.Receipt{
		ID:       id,
		Date:     date,
		Total:    decimal.RequireFromString(total),
		Items:    []finance.ReceiptItem{},
		Category: finance.Other,
	}
}

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		gw    *faultyGateway
		store *Store
		now   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		bolt, err := gateway.NewBolt(filepath.Join(GinkgoT().TempDir(), "state.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(bolt.Close)

		gw = &faultyGateway{Gateway: bolt}
		now = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
		store = New(gw, func() time.Time { return now })
	})

	Describe("before Initialize", func() {
		It("refuses to add receipts", func() {
			_, err := store.AddReceipt(ctx, receipt("r-1", "1.00", now))
			Expect(err).To(MatchError(ErrNoUser))
		})

		It("refuses an empty user", func() {
			Expect(store.Initialize(ctx, "")).To(MatchError(ErrNoUser))
		})

		It("starts with empty collections", func() {
			Expect(store.Receipts()).NotTo(BeNil())
			Expect(store.Receipts()).To(BeEmpty())
		})
	})

	Describe("after Initialize", func() {
		BeforeEach(func() {
			Expect(store.Initialize(ctx, "user-1")).To(Succeed())
		})

		It("remembers the user", func() {
			Expect(store.UserID()).To(Equal("user-1"))
		})

		Describe("AddReceipt", func() {
			It("appends in submission order", func() {
				_, err := store.AddReceipt(ctx, receipt("r-1", "1.00", now))
				Expect(err).NotTo(HaveOccurred())
				_, err = store.AddReceipt(ctx, receipt("r-2", "2.00", now))
				Expect(err).NotTo(HaveOccurred())

				receipts := store.Receipts()
				Expect(receipts).To(HaveLen(2))
				Expect(receipts[0].ID).To(Equal("r-1"))
				Expect(receipts[1].ID).To(Equal("r-2"))
			})

			It("stamps the creation time", func() {
				added, err := store.AddReceipt(ctx, receipt("r-1", "1.00", now))
				Expect(err).NotTo(HaveOccurred())
				Expect(added.CreatedAt).To(Equal(now))
				Expect(added.UpdatedAt).To(Equal(now))
			})

			It("survives a reload with identical values", func() {
				in := receipt("r-1", "12.34", time.Date(2024, 3, 1, 9, 30, 0, 123, time.FixedZone("CET", 3600)))
				in.Notes = "corner shop"
				in.ImageURL = "user-1/r-1.png"
				added, err := store.AddReceipt(ctx, in)
				Expect(err).NotTo(HaveOccurred())

				reloaded := New(gw, nil)
				Expect(reloaded.Initialize(ctx, "user-1")).To(Succeed())
				out := reloaded.Receipts()
				Expect(out).To(HaveLen(1))
				Expect(out[0].ID).To(Equal(added.ID))
				Expect(out[0].Date).To(BeTemporally("==", added.Date))
				Expect(out[0].CreatedAt).To(BeTemporally("==", added.CreatedAt))
				Expect(out[0].UpdatedAt).To(BeTemporally("==", added.UpdatedAt))
				Expect(out[0].Total.Equal(added.Total)).To(BeTrue())
				Expect(out[0].Items).To(BeEmpty())
				Expect(out[0].Category).To(Equal(added.Category))
				Expect(out[0].Notes).To(Equal(added.Notes))
				Expect(out[0].ImageURL).To(Equal(added.ImageURL))
			})

			It("rejects invalid receipts without writing", func() {
				_, err := store.AddReceipt(ctx, receipt("r-1", "-1.00", now))
				Expect(err).To(MatchError(finance.ErrNegativeAmount))
				Expect(store.Receipts()).To(BeEmpty())
			})

			When("the gateway fails", func() {
				BeforeEach(func() {
					_, err := store.AddReceipt(ctx, receipt("r-1", "1.00", now))
					Expect(err).NotTo(HaveOccurred())
					gw.insertReceiptErr = errors.New("connection reset")
				})

				It("returns the error and keeps the loaded receipts", func() {
					_, err := store.AddReceipt(ctx, receipt("r-2", "2.00", now))
					Expect(err).To(MatchError(ContainSubstring("connection reset")))

					receipts := store.Receipts()
					Expect(receipts).To(HaveLen(1))
					Expect(receipts[0].ID).To(Equal("r-1"))
				})
			})
		})

		Describe("UpdateReceipt", func() {
			BeforeEach(func() {
				_, err := store.AddReceipt(ctx, receipt("r-1", "1.00", now))
				Expect(err).NotTo(HaveOccurred())
				now = now.Add(time.Hour)
			})

			It("replaces by id and keeps the creation time", func() {
				updated, err := store.UpdateReceipt(ctx, receipt("r-1", "9.99", now))
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.CreatedAt).To(Equal(now.Add(-time.Hour)))
				Expect(updated.UpdatedAt).To(Equal(now))

				got, ok := store.Receipt("r-1")
				Expect(ok).To(BeTrue())
				Expect(got.Total.Equal(decimal.RequireFromString("9.99"))).To(BeTrue())
			})

			It("reports unknown receipts", func() {
				_, err := store.UpdateReceipt(ctx, receipt("missing", "1.00", now))
				Expect(err).To(MatchError(ErrNotFound))
			})

			It("leaves memory untouched when the write fails", func() {
				gw.updateReceiptErr = errors.New("timeout")
				_, err := store.UpdateReceipt(ctx, receipt("r-1", "9.99", now))
				Expect(err).To(HaveOccurred())

				got, _ := store.Receipt("r-1")
				Expect(got.Total.Equal(decimal.RequireFromString("1.00"))).To(BeTrue())
			})
		})

		Describe("DeleteReceipt", func() {
			BeforeEach(func() {
				_, err := store.AddReceipt(ctx, receipt("r-1", "1.00", now))
				Expect(err).NotTo(HaveOccurred())
			})

			It("removes the receipt and returns it", func() {
				deleted, err := store.DeleteReceipt(ctx, "r-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(deleted.ID).To(Equal("r-1"))
				Expect(store.Receipts()).To(BeEmpty())
			})

			It("keeps the receipt when the write fails", func() {
				gw.deleteReceiptErr = errors.New("timeout")
				_, err := store.DeleteReceipt(ctx, "r-1")
				Expect(err).To(HaveOccurred())
				Expect(store.Receipts()).To(HaveLen(1))
			})
		})

		Describe("UpdateBudget", func() {
			var budget finance.Budget

			BeforeEach(func() {
				budget = finance.Budget{
					ID:       "b-1",
					Category: finance.Groceries,
					Limit:    decimal.RequireFromString("300"),
					Spent:    decimal.Zero,
					Period:   finance.Monthly,
				}
			})

			It("appends an unknown budget and replaces a known one", func() {
				_, err := store.UpdateBudget(ctx, budget)
				Expect(err).NotTo(HaveOccurred())

				budget.Spent = decimal.RequireFromString("120")
				_, err = store.UpdateBudget(ctx, budget)
				Expect(err).NotTo(HaveOccurred())

				budgets := store.Budgets()
				Expect(budgets).To(HaveLen(1))
				Expect(budgets[0].Spent.Equal(decimal.RequireFromString("120"))).To(BeTrue())
			})

			It("returns gateway errors", func() {
				gw.upsertBudgetErr = errors.New("denied")
				_, err := store.UpdateBudget(ctx, budget)
				Expect(err).To(MatchError(ContainSubstring("denied")))
				Expect(store.Budgets()).To(BeEmpty())
			})
		})

		Describe("shopping lists", func() {
			var list finance.ShoppingList

			BeforeEach(func() {
				list = finance.ShoppingList{
					ID:   "l-1",
					Name: "Saturday",
					Items: []finance.ShoppingItem{
						{ID: "i-1", Name: "Bread", Quantity: 1},
						{ID: "i-2", Name: "Eggs", Quantity: 12},
					},
				}
			})

			It("adds, updates and deletes a list", func() {
				added, err := store.AddShoppingList(ctx, list)
				Expect(err).NotTo(HaveOccurred())
				Expect(added.CreatedAt).To(Equal(now))

				list.Name = "Sunday"
				list.Items = []finance.ShoppingItem{{ID: "i-2", Name: "Eggs", Quantity: 6, Completed: true}}
				_, err = store.UpdateShoppingList(ctx, list)
				Expect(err).NotTo(HaveOccurred())

				reloaded := New(gw, nil)
				Expect(reloaded.Initialize(ctx, "user-1")).To(Succeed())
				lists := reloaded.ShoppingLists()
				Expect(lists).To(HaveLen(1))
				Expect(lists[0].Name).To(Equal("Sunday"))
				Expect(lists[0].Items).To(Equal(list.Items))

				Expect(store.DeleteShoppingList(ctx, "l-1")).To(Succeed())
				Expect(store.ShoppingLists()).To(BeEmpty())
			})

			It("removes a new list again when its items cannot be written", func() {
				gw.upsertItemsErr = errors.New("disk full")
				_, err := store.AddShoppingList(ctx, list)
				Expect(err).To(MatchError(ContainSubstring("disk full")))
				Expect(gw.deleteListCalls).To(Equal(1))
				Expect(store.ShoppingLists()).To(BeEmpty())
			})

			It("keeps the stored name when the items of an update cannot be written", func() {
				_, err := store.AddShoppingList(ctx, list)
				Expect(err).NotTo(HaveOccurred())

				gw.upsertItemsErr = errors.New("boom")
				renamed := list
				renamed.Name = "Sunday"
				_, err = store.UpdateShoppingList(ctx, renamed)
				Expect(err).To(MatchError(ContainSubstring("boom")))
				Expect(store.ShoppingLists()[0].Name).To(Equal("Saturday"))

				gw.upsertItemsErr = nil
				reloaded := New(gw, nil)
				Expect(reloaded.Initialize(ctx, "user-1")).To(Succeed())
				Expect(reloaded.ShoppingLists()).To(HaveLen(1))
				Expect(reloaded.ShoppingLists()[0].Name).To(Equal("Saturday"))
				Expect(reloaded.ShoppingLists()[0].Items).To(Equal(list.Items))
			})

			It("rejects repeated item ids", func() {
				list.Items[1].ID = list.Items[0].ID
				_, err := store.AddShoppingList(ctx, list)
				Expect(err).To(HaveOccurred())
				Expect(store.ShoppingLists()).To(BeEmpty())
			})

			It("reports unknown lists on update", func() {
				_, err := store.UpdateShoppingList(ctx, list)
				Expect(err).To(MatchError(ErrNotFound))
			})
		})

		It("returns copies that do not alias the store", func() {
			r := receipt("r-1", "1.00", now)
			r.Items = []finance.ReceiptItem{{ID: "i-1", Name: "Tea", Price: decimal.RequireFromString("1.00"), Quantity: 1, Category: finance.Groceries}}
			_, err := store.AddReceipt(ctx, r)
			Expect(err).NotTo(HaveOccurred())

			receipts := store.Receipts()
			receipts[0].Items[0].Name = "Coffee"
			Expect(store.Receipts()[0].Items[0].Name).To(Equal("Tea"))
		})
	})

	Describe("Initialize failures", func() {
		BeforeEach(func() {
			Expect(store.Initialize(ctx, "user-1")).To(Succeed())
			_, err := store.AddReceipt(ctx, receipt("r-1", "1.00", now))
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps the previous state when one load fails", func() {
			gw.selectBudgetsErr = errors.New("budgets offline")
			Expect(store.Initialize(ctx, "user-2")).To(MatchError(ContainSubstring("budgets offline")))
			Expect(store.UserID()).To(Equal("user-1"))
			Expect(store.Receipts()).To(HaveLen(1))
		})
	})

	Describe("Export", func() {
		BeforeEach(func() {
			Expect(store.Initialize(ctx, "user-1")).To(Succeed())
			_, err := store.AddReceipt(ctx, receipt("r-1", "12.34", now))
			Expect(err).NotTo(HaveOccurred())
			_, err = store.UpdateBudget(ctx, finance.Budget{ID: "b-1", Category: finance.Dining, Limit: decimal.NewFromInt(50), Period: finance.Weekly})
			Expect(err).NotTo(HaveOccurred())
			_, err = store.AddShoppingList(ctx, finance.ShoppingList{ID: "l-1", Name: "Party", Items: []finance.ShoppingItem{{ID: "i-1", Name: "Chips", Quantity: 3}}})
			Expect(err).NotTo(HaveOccurred())
		})

		It("writes one named sheet per collection", func() {
			var buf bytes.Buffer
			Expect(store.Export(&buf)).To(Succeed())

			f, err := excelize.OpenReader(&buf)
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()

			Expect(f.GetSheetList()).To(Equal([]string{ReceiptsSheet, BudgetsSheet, ShoppingListsSheet}))

			id, err := f.GetCellValue(ReceiptsSheet, "A2")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("r-1"))

			total, err := f.GetCellValue(ReceiptsSheet, "C2")
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal("12.34"))

			item, err := f.GetCellValue(ShoppingListsSheet, "C2")
			Expect(err).NotTo(HaveOccurred())
			Expect(item).To(Equal("Chips"))

			period, err := f.GetCellValue(BudgetsSheet, "E2")
			Expect(err).NotTo(HaveOccurred())
			Expect(period).To(Equal("weekly"))
		})

		It("writes receipt dates as UTC days", func() {
			late := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
			_, err := store.AddReceipt(ctx, receipt("r-2", "5.00", late))
			Expect(err).NotTo(HaveOccurred())

			var buf bytes.Buffer
			Expect(store.Export(&buf)).To(Succeed())
			f, err := excelize.OpenReader(&buf)
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()

			date, err := f.GetCellValue(ReceiptsSheet, "B3")
			Expect(err).NotTo(HaveOccurred())
			Expect(date).To(Equal("2024-03-10"))
		})
	})

	Describe("Insights", func() {
		BeforeEach(func() {
			Expect(store.Initialize(ctx, "user-1")).To(Succeed())

			march := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
			april := time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)

			dining := receipt("r-1", "10.00", march)
			dining.Category = finance.Dining
			for _, r := range []finance.Receipt{dining, receipt("r-2", "5.50", march), receipt("r-3", "4.50", april)} {
				_, err := store.AddReceipt(ctx, r)
				Expect(err).NotTo(HaveOccurred())
			}

			for _, b := range []finance.Budget{
				{ID: "b-1", Category: finance.Dining, Limit: decimal.NewFromInt(40), Spent: decimal.NewFromInt(10), Period: finance.Monthly},
				{ID: "b-2", Category: finance.Other, Limit: decimal.NewFromInt(5), Spent: decimal.NewFromInt(10), Period: finance.Monthly},
			} {
				_, err := store.UpdateBudget(ctx, b)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("sums spending by category in category order", func() {
			insights := store.Insights()
			Expect(insights.Total.Equal(decimal.NewFromInt(20))).To(BeTrue())
			Expect(insights.ByCategory).To(HaveLen(2))
			Expect(insights.ByCategory[0].Category).To(Equal(finance.Dining))
			Expect(insights.ByCategory[1].Category).To(Equal(finance.Other))
			Expect(insights.ByCategory[1].Total.Equal(decimal.NewFromInt(10))).To(BeTrue())
		})

		It("sums spending by month", func() {
			insights := store.Insights()
			Expect(insights.ByMonth).To(HaveLen(2))
			Expect(insights.ByMonth[0].Month).To(Equal("2024-03"))
			Expect(insights.ByMonth[0].Total.Equal(decimal.RequireFromString("15.50"))).To(BeTrue())
			Expect(insights.ByMonth[1].Month).To(Equal("2024-04"))
		})

		It("caps budget progress at 100 percent", func() {
			insights := store.Insights()
			Expect(insights.Budgets).To(HaveLen(2))
			Expect(insights.Budgets[0].Percent.Equal(decimal.NewFromInt(25))).To(BeTrue())
			Expect(insights.Budgets[1].Percent.Equal(decimal.NewFromInt(100))).To(BeTrue())
		})
	})
})

var _ = Describe("Store on SQLite", func() {
	var (
		ctx   context.Context
		db    *gateway.SQLite
		alice *Store
		bob   *Store
		now   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = gateway.NewSQLite(filepath.Join(GinkgoT().TempDir(), "state.sqlite"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)

		now = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		alice = New(db, clock)
		Expect(alice.Initialize(ctx, "alice")).To(Succeed())
		bob = New(db, clock)
		Expect(bob.Initialize(ctx, "bob")).To(Succeed())

		_, err = alice.AddShoppingList(ctx, finance.ShoppingList{
			ID:    "l-alice",
			Name:  "Groceries",
			Items: []finance.ShoppingItem{{ID: "item-1", Name: "Milk", Quantity: 1}},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	reload := func(userID string) *Store {
		s := New(db, nil)
		Expect(s.Initialize(ctx, userID)).To(Succeed())
		return s
	}

	It("reloads a written list unchanged", func() {
		lists := reload("alice").ShoppingLists()
		Expect(lists).To(HaveLen(1))
		Expect(lists[0].Items).To(Equal([]finance.ShoppingItem{{ID: "item-1", Name: "Milk", Quantity: 1}}))
	})

	It("refuses an item id held by another user", func() {
		_, err := bob.AddShoppingList(ctx, finance.ShoppingList{
			ID:   "l-bob",
			Name: "Party",
			Items: []finance.ShoppingItem{
				{ID: "item-1", Name: "Chips", Quantity: 2},
				{ID: "item-2", Name: "Soda", Quantity: 6},
			},
		})
		Expect(err).To(MatchError(ErrConflict))
		Expect(bob.ShoppingLists()).To(BeEmpty())
		Expect(reload("bob").ShoppingLists()).To(BeEmpty())

		lists := reload("alice").ShoppingLists()
		Expect(lists[0].Items[0].Name).To(Equal("Milk"))
	})

	It("refuses to move an item from another list of the same user", func() {
		now = now.Add(time.Minute)
		_, err := alice.AddShoppingList(ctx, finance.ShoppingList{ID: "l-2", Name: "Hardware"})
		Expect(err).NotTo(HaveOccurred())

		_, err = alice.UpdateShoppingList(ctx, finance.ShoppingList{
			ID:    "l-2",
			Name:  "Hardware store",
			Items: []finance.ShoppingItem{{ID: "item-1", Name: "Nails", Quantity: 100}},
		})
		Expect(err).To(MatchError(ErrConflict))

		for _, s := range []*Store{alice, reload("alice")} {
			lists := s.ShoppingLists()
			Expect(lists).To(HaveLen(2))
			Expect(lists[0].Items).To(HaveLen(1))
			Expect(lists[0].Items[0].Name).To(Equal("Milk"))
			Expect(lists[1].Name).To(Equal("Hardware"))
			Expect(lists[1].Items).To(BeEmpty())
		}
	})
})
