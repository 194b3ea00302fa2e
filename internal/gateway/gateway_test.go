package gateway_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/zombor/finance-tracker/internal/finance"
	"github.com/zombor/finance-tracker/internal/gateway"
)

func TestGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Gateway Suite")
}

func sampleReceipt(id string, created time.Time) finance.Receipt {
	return finance.Receipt{
		ID:    id,
		Date:  created,
		Total: decimal.RequireFromString("12.34"),
		Items: []finance.ReceiptItem{
			{ID: "item-1", Name: "Milk", Price: decimal.RequireFromString("1.99"), Quantity: 2, Category: finance.Groceries},
		},
		Category:  finance.Other,
		ImageURL:  "receipts/" + id + ".png",
		Notes:     "weekly shop",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
}

var _ = Describe("Mapping", func() {
	var created time.Time

	BeforeEach(func() {
		created = time.Date(2024, 3, 9, 14, 30, 5, 120000000, time.FixedZone("CET", 3600))
	})

	Describe("receipts", func() {
		It("round trips every field", func() {
			in := sampleReceipt("r-1", created)
			row, err := gateway.ReceiptToRow("user-1", in)
			Expect(err).NotTo(HaveOccurred())
			Expect(row.UserID).To(Equal("user-1"))
			Expect(row.Date).To(Equal("2024-03-09T13:30:05.120000000Z"))

			out, err := gateway.ReceiptFromRow(row)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Date).To(BeTemporally("==", in.Date))
			Expect(out.CreatedAt).To(BeTemporally("==", in.CreatedAt))
			Expect(out.UpdatedAt).To(BeTemporally("==", in.UpdatedAt))
			Expect(out.Total.Equal(in.Total)).To(BeTrue())
			Expect(out.Items).To(HaveLen(1))
			Expect(out.Items[0].Price.Equal(in.Items[0].Price)).To(BeTrue())
			Expect(out.Items[0].Name).To(Equal("Milk"))
			Expect(out.Category).To(Equal(finance.Other))
			Expect(out.ImageURL).To(Equal(in.ImageURL))
			Expect(out.Notes).To(Equal(in.Notes))
		})

		It("stores nil items as an empty array", func() {
			in := sampleReceipt("r-1", created)
			in.Items = nil
			row, err := gateway.ReceiptToRow("user-1", in)
			Expect(err).NotTo(HaveOccurred())
			Expect(row.Items).To(Equal("[]"))

			out, err := gateway.ReceiptFromRow(row)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Items).NotTo(BeNil())
			Expect(out.Items).To(BeEmpty())
		})

		It("accepts timestamps with offsets and short fractions", func() {
			row, _ := gateway.ReceiptToRow("user-1", sampleReceipt("r-1", created))
			row.Date = "2024-03-09T15:30:05.1+02:00"
			out, err := gateway.ReceiptFromRow(row)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Date).To(BeTemporally("==", time.Date(2024, 3, 9, 13, 30, 5, 100000000, time.UTC)))
		})

		DescribeTable("rejects malformed rows",
			func(mutate func(*gateway.ReceiptRow)) {
				row, err := gateway.ReceiptToRow("user-1", sampleReceipt("r-1", created))
				Expect(err).NotTo(HaveOccurred())
				mutate(&row)
				_, err = gateway.ReceiptFromRow(row)
				Expect(err).To(MatchError(gateway.ErrMalformedRow))
			},
			Entry("missing id", func(r *gateway.ReceiptRow) { r.ID = "" }),
			Entry("bad date", func(r *gateway.ReceiptRow) { r.Date = "yesterday" }),
			Entry("bad total", func(r *gateway.ReceiptRow) { r.Total = "twelve" }),
			Entry("negative total", func(r *gateway.ReceiptRow) { r.Total = "-1.00" }),
			Entry("unknown category", func(r *gateway.ReceiptRow) { r.Category = "gadgets" }),
			Entry("broken items", func(r *gateway.ReceiptRow) { r.Items = "{" }),
			Entry("missing created_at", func(r *gateway.ReceiptRow) { r.CreatedAt = "" }),
		)
	})

	Describe("budgets", func() {
		It("round trips", func() {
			in := finance.Budget{
				ID:       "b-1",
				Category: finance.Dining,
				Limit:    decimal.RequireFromString("200"),
				Spent:    decimal.RequireFromString("35.50"),
				Period:   finance.Monthly,
			}
			out, err := gateway.BudgetFromRow(gateway.BudgetToRow("user-1", in))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.ID).To(Equal("b-1"))
			Expect(out.Category).To(Equal(finance.Dining))
			Expect(out.Period).To(Equal(finance.Monthly))
			Expect(out.Limit.Equal(in.Limit)).To(BeTrue())
			Expect(out.Spent.Equal(in.Spent)).To(BeTrue())
		})

		It("rejects an unknown period", func() {
			_, err := gateway.BudgetFromRow(gateway.BudgetRow{ID: "b-1", Category: "dining", Limit: "1", Spent: "0", Period: "daily"})
			Expect(err).To(MatchError(gateway.ErrMalformedRow))
		})
	})

	Describe("shopping lists", func() {
		It("joins items to their list in position order", func() {
			in := finance.ShoppingList{
				ID:   "l-1",
				Name: "Saturday",
				Items: []finance.ShoppingItem{
					{ID: "i-1", Name: "Bread", Quantity: 1},
					{ID: "i-2", Name: "Eggs", Quantity: 12, Completed: true},
				},
				CreatedAt: created,
				UpdatedAt: created,
			}
			list, items := gateway.ShoppingListToRows("user-1", in)
			Expect(items[1].Position).To(Equal(1))
			Expect(items[1].ListID).To(Equal("l-1"))

			items[0], items[1] = items[1], items[0]
			stray := gateway.ShoppingItemRow{ID: "i-9", ListID: "gone", Name: "Ghost", Quantity: 1}

			out, err := gateway.ShoppingListsFromRows([]gateway.ShoppingListRow{list}, append(items, stray))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(1))
			Expect(out[0].Items).To(Equal(in.Items))
			Expect(out[0].CreatedAt).To(BeTemporally("==", created))
		})

		It("rejects a list with a broken timestamp", func() {
			_, err := gateway.ShoppingListsFromRows([]gateway.ShoppingListRow{{ID: "l-1", Name: "x", CreatedAt: "nope"}}, nil)
			Expect(err).To(MatchError(gateway.ErrMalformedRow))
		})
	})
})

// describeGateway runs the behaviour every back-end shares
func describeGateway(name string, open func() gateway.Gateway) {
	Describe(name, func() {
		var (
			gw      gateway.Gateway
			ctx     context.Context
			created time.Time
		)

		BeforeEach(func() {
			gw = nil
			ctx = context.Background()
			created = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
			gw = open()
		})

		AfterEach(func() {
			if gw != nil {
				Expect(gw.Close()).To(Succeed())
			}
		})

		Describe("receipts", func() {
			var row gateway.ReceiptRow

			BeforeEach(func() {
				var err error
				row, err = gateway.ReceiptToRow("user-1", sampleReceipt("r-1", created))
				Expect(err).NotTo(HaveOccurred())
				Expect(gw.InsertReceipt(ctx, row)).To(Succeed())
			})

			It("reloads the receipt with identical values", func() {
				rows, err := gw.SelectReceipts(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(Equal([]gateway.ReceiptRow{row}))
			})

			It("keeps receipts of other users apart", func() {
				rows, err := gw.SelectReceipts(ctx, "user-2")
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(BeEmpty())
			})

			It("returns receipts in creation order", func() {
				later, _ := gateway.ReceiptToRow("user-1", sampleReceipt("a-later", created.Add(time.Hour)))
				Expect(gw.InsertReceipt(ctx, later)).To(Succeed())

				rows, err := gw.SelectReceipts(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(HaveLen(2))
				Expect(rows[0].ID).To(Equal("r-1"))
				Expect(rows[1].ID).To(Equal("a-later"))
			})

			It("updates by id", func() {
				row.Total = "15.00"
				Expect(gw.UpdateReceipt(ctx, row)).To(Succeed())

				rows, err := gw.SelectReceipts(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(rows[0].Total).To(Equal("15.00"))
			})

			It("does not update another user's receipt", func() {
				row.UserID = "user-2"
				Expect(gw.UpdateReceipt(ctx, row)).To(MatchError(gateway.ErrNotFound))
			})

			It("deletes by id", func() {
				Expect(gw.DeleteReceipt(ctx, "user-1", "r-1")).To(Succeed())
				rows, err := gw.SelectReceipts(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(BeEmpty())
			})

			It("reports a missing receipt on delete", func() {
				Expect(gw.DeleteReceipt(ctx, "user-1", "missing")).To(MatchError(gateway.ErrNotFound))
				Expect(gw.DeleteReceipt(ctx, "user-2", "r-1")).To(MatchError(gateway.ErrNotFound))
			})
		})

		Describe("budgets", func() {
			It("inserts and then updates on upsert", func() {
				b := gateway.BudgetRow{ID: "b-1", UserID: "user-1", Category: "dining", Limit: "100", Spent: "0", Period: "monthly"}
				Expect(gw.UpsertBudget(ctx, b)).To(Succeed())

				b.Limit = "150"
				Expect(gw.UpsertBudget(ctx, b)).To(Succeed())

				rows, err := gw.SelectBudgets(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(Equal([]gateway.BudgetRow{b}))
			})
		})

		Describe("shopping lists", func() {
			var (
				list  gateway.ShoppingListRow
				items []gateway.ShoppingItemRow
			)

			BeforeEach(func() {
				list, items = gateway.ShoppingListToRows("user-1", finance.ShoppingList{
					ID:   "l-1",
					Name: "Saturday",
					Items: []finance.ShoppingItem{
						{ID: "i-1", Name: "Bread", Quantity: 1},
						{ID: "i-2", Name: "Eggs", Quantity: 12},
					},
					CreatedAt: created,
					UpdatedAt: created,
				})
				Expect(gw.InsertShoppingList(ctx, list)).To(Succeed())
				Expect(gw.UpsertShoppingItems(ctx, "user-1", "l-1", items)).To(Succeed())
			})

			It("reloads the list and its items", func() {
				lists, err := gw.SelectShoppingLists(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(lists).To(Equal([]gateway.ShoppingListRow{list}))

				rows, err := gw.SelectShoppingItems(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(Equal(items))
			})

			It("replaces the item set on upsert", func() {
				items[0].Completed = true
				Expect(gw.UpsertShoppingItems(ctx, "user-1", "l-1", items[:1])).To(Succeed())

				rows, err := gw.SelectShoppingItems(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(HaveLen(1))
				Expect(rows[0].ID).To(Equal("i-1"))
				Expect(rows[0].Completed).To(BeTrue())
			})

			It("refuses repeated item ids", func() {
				items[1].ID = items[0].ID
				Expect(gw.UpsertShoppingItems(ctx, "user-1", "l-1", items)).To(MatchError(gateway.ErrConflict))
			})

			It("refuses an item id that belongs to another list", func() {
				other, _ := gateway.ShoppingListToRows("user-1", finance.ShoppingList{
					ID: "l-2", Name: "Hardware", CreatedAt: created, UpdatedAt: created,
				})
				Expect(gw.InsertShoppingList(ctx, other)).To(Succeed())

				moved := []gateway.ShoppingItemRow{{ID: "i-1", UserID: "user-1", ListID: "l-2", Name: "Nails", Quantity: 100}}
				Expect(gw.UpsertShoppingItems(ctx, "user-1", "l-2", moved)).To(MatchError(gateway.ErrConflict))

				rows, err := gw.SelectShoppingItems(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(Equal(items))
			})

			It("renames the list", func() {
				list.Name = "Sunday"
				list.UpdatedAt = gateway.FormatTime(created.Add(time.Hour))
				Expect(gw.UpdateShoppingList(ctx, list)).To(Succeed())

				lists, err := gw.SelectShoppingLists(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(lists[0].Name).To(Equal("Sunday"))
				Expect(lists[0].UpdatedAt).To(Equal(list.UpdatedAt))
			})

			It("reports a missing list on update", func() {
				list.ID = "missing"
				Expect(gw.UpdateShoppingList(ctx, list)).To(MatchError(gateway.ErrNotFound))
			})

			It("deletes the list together with its items", func() {
				Expect(gw.DeleteShoppingList(ctx, "user-1", "l-1")).To(Succeed())

				lists, err := gw.SelectShoppingLists(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(lists).To(BeEmpty())

				rows, err := gw.SelectShoppingItems(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(BeEmpty())
			})
		})
	})
}

var _ = Describe("Back-ends", func() {
	describeGateway("Bolt", func() gateway.Gateway {
		db, err := gateway.NewBolt(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		return db
	})

	describeGateway("SQLite", func() gateway.Gateway {
		db, err := gateway.NewSQLite(filepath.Join(GinkgoT().TempDir(), "data", "test.sqlite"))
		Expect(err).NotTo(HaveOccurred())
		return db
	})

	describeGateway("Postgres", func() gateway.Gateway {
		dsn := os.Getenv("FINANCE_TRACKER_TEST_POSTGRES_DSN")
		if dsn == "" {
			Skip("FINANCE_TRACKER_TEST_POSTGRES_DSN not set")
		}
		db, err := gateway.NewPostgres(dsn)
		Expect(err).NotTo(HaveOccurred())

		conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(conn.Exec("TRUNCATE receipts, budgets, shopping_lists, shopping_items").Error).To(Succeed())
		sqlDB, err := conn.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())

		return db
	})
})
