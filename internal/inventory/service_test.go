package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/kitcheniq/internal/imagery"
	"github.com/zombor/kitcheniq/internal/scanning"
)

var _ = Describe("sanitizeFilename", func() {
	DescribeTable("cleans names",
		func(in, want string) {
			Expect(sanitizeFilename(in)).To(Equal(want))
		},
		Entry("plain", "receipt.jpg", "receipt.jpg"),
		Entry("special characters", "my receipt (1)!.PNG", "my receipt 1.png"),
		Entry("path components", "../../etc/passwd", "passwd"),
		Entry("empty base", "!!!.pdf", "receipt.pdf"),
		Entry("collapsed spaces", "a    b.heic", "a b.heic"),
	)

	It("truncates long names", func() {
		long := ""
		for i := 0; i < 80; i++ {
			long += "a"
		}
		Expect(sanitizeFilename(long + ".jpg")).To(HaveLen(54))
	})
})

var _ = Describe("Service", func() {
	var (
		ctx        context.Context
		db         *SQLiteDB
		scanner    *mockScanner
		resolver   *mockResolver
		uploads    *mockStorage
		pusher     *mockPusher
		timeSource *mockTimeSource
		service    *Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB()
		scanner = &mockScanner{}
		resolver = newMockResolver()
		uploads = newMockStorage()
		pusher = &mockPusher{}
		timeSource = &mockTimeSource{now: day0}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(db, scanner, resolver, uploads, pusher, &mockIDGenerator{id: "upload-1"}, timeSource)
	})

	createItem := func(in NewItem) *Item {
		item, err := service.CreateItem(ctx, in)
		Expect(err).NotTo(HaveOccurred())
		return item
	}

	Describe("IngestReceipt", func() {
		When("extraction succeeds", func() {
			BeforeEach(func() {
				scanner.items = []scanning.LineItem{
					{Name: "Milk", Price: 3.49, Category: scanning.CategoryFridge, Store: "Costco"},
					{Name: "Bread", Price: 2.99, Category: scanning.CategoryPantry, Store: "Costco"},
				}
			})

			It("stores the upload and reconciles every item", func() {
				report, err := service.IngestReceipt(ctx, "My Receipt!.jpg", []byte("jpeg"), "image/jpeg", "Costco")
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Count()).To(Equal(2))
				Expect(scanner.storeHint).To(Equal("Costco"))
				Expect(uploads.files).To(HaveKey("upload-1_My Receipt.jpg"))

				stats, err := service.Stats(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.Total).To(Equal(2))
			})
		})

		When("the extraction oracle is unavailable", func() {
			BeforeEach(func() {
				scanner.err = fmt.Errorf("%w: timeout", scanning.ErrProviderUnavailable)
			})

			It("fails and removes the stored upload", func() {
				report, err := service.IngestReceipt(ctx, "receipt.jpg", []byte("jpeg"), "image/jpeg", "")
				Expect(err).To(MatchError(scanning.ErrProviderUnavailable))
				Expect(report).To(BeNil())
				Expect(uploads.files).To(BeEmpty())

				items, err := service.ListItems(ctx, ItemFilter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(items).To(BeEmpty())
			})
		})

		When("the extraction is malformed", func() {
			BeforeEach(func() {
				scanner.err = fmt.Errorf("%w: not an array", scanning.ErrMalformedExtraction)
			})

			It("surfaces the malformed extraction", func() {
				_, err := service.IngestReceipt(ctx, "receipt.jpg", []byte("jpeg"), "image/jpeg", "")
				Expect(err).To(MatchError(scanning.ErrMalformedExtraction))
			})
		})

		When("the upload cannot be saved", func() {
			BeforeEach(func() {
				uploads.saveErr = errors.New("disk full")
			})

			It("does not call the scanner", func() {
				_, err := service.IngestReceipt(ctx, "receipt.jpg", []byte("jpeg"), "image/jpeg", "")
				Expect(err).To(HaveOccurred())
				Expect(scanner.calls).To(BeZero())
			})
		})
	})

	Describe("ResolveImage", func() {
		BeforeEach(func() {
			resolver.images["milk"] = imagery.Resolution{LocalPath: "/cache/milk.jpg"}
		})

		It("passes the query through", func() {
			res := service.ResolveImage(ctx, "Milk", "2%", "Costco")
			Expect(res.LocalPath).To(Equal("/cache/milk.jpg"))
			Expect(resolver.resolved).To(ConsistOf(imagery.Query{Name: "Milk", Description: "2%", Store: "Costco"}))
		})
	})

	Describe("CreateItem", func() {
		BeforeEach(func() {
			resolver.images["milk"] = imagery.Resolution{LocalPath: "/cache/milk.jpg", SourceURL: "https://img.example/milk.jpg"}
		})

		It("resolves an image and records history and price", func() {
			item := createItem(NewItem{Name: " Milk ", Price: 3.49, Store: "Costco", Category: scanning.CategoryFridge})
			Expect(item.ID).To(BeNumerically(">", 0))
			Expect(item.Name).To(Equal("Milk"))
			Expect(item.ImageLocal).To(Equal("/cache/milk.jpg"))
			Expect(item.Status).To(Equal(StatusHave))

			events, err := db.ListHistory(ctx, EventRestocked)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))

			prices, err := db.ListPrices(ctx, "Milk")
			Expect(err).NotTo(HaveOccurred())
			Expect(prices).To(HaveLen(1))
		})

		It("defaults the category to Pantry", func() {
			item := createItem(NewItem{Name: "Rice"})
			Expect(item.Category).To(Equal(scanning.CategoryPantry))
		})

		It("rejects invalid input", func() {
			_, err := service.CreateItem(ctx, NewItem{Name: "  "})
			Expect(err).To(MatchError(ErrInvalidInput))

			_, err = service.CreateItem(ctx, NewItem{Name: "Rice", Category: "Garage"})
			Expect(err).To(MatchError(ErrInvalidInput))

			_, err = service.CreateItem(ctx, NewItem{Name: "Rice", Price: -1})
			Expect(err).To(MatchError(ErrInvalidInput))
		})
	})

	Describe("UpdateItem", func() {
		var item *Item

		JustBeforeEach(func() {
			item = createItem(NewItem{Name: "Milk", Price: 3.49, Store: "Costco", Category: scanning.CategoryFridge})
		})

		needed := StatusNeeded
		have := StatusHave

		When("the item becomes needed", func() {
			It("adds exactly one shopping list entry and one needed event", func() {
				_, err := service.UpdateItem(ctx, item.ID, ItemPatch{Status: &needed})
				Expect(err).NotTo(HaveOccurred())
				_, err = service.UpdateItem(ctx, item.ID, ItemPatch{Status: &needed})
				Expect(err).NotTo(HaveOccurred())

				list, err := service.ShoppingList(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(list.Items).To(HaveLen(1))
				Expect(list.Items[0].Name).To(Equal("Milk"))
				Expect(list.Total).To(Equal(3.49))

				events, err := db.ListHistory(ctx, EventNeeded)
				Expect(err).NotTo(HaveOccurred())
				Expect(events).To(HaveLen(1))
			})
		})

		When("the item goes back to have", func() {
			It("removes the shopping list entry", func() {
				_, err := service.UpdateItem(ctx, item.ID, ItemPatch{Status: &needed})
				Expect(err).NotTo(HaveOccurred())
				updated, err := service.UpdateItem(ctx, item.ID, ItemPatch{Status: &have})
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Status).To(Equal(StatusHave))

				list, err := service.ShoppingList(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(list.Items).To(BeEmpty())
			})
		})

		When("the price changes", func() {
			It("records a new price observation", func() {
				price := 2.99
				updated, err := service.UpdateItem(ctx, item.ID, ItemPatch{Price: &price})
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Price).To(Equal(2.99))

				prices, err := service.GetPriceHistory(ctx, "milk")
				Expect(err).NotTo(HaveOccurred())
				Expect(prices).To(HaveLen(1))
				Expect(prices[0].Price).To(Equal(2.99))

				observations, err := db.ListPrices(ctx, "Milk")
				Expect(err).NotTo(HaveOccurred())
				Expect(observations).To(HaveLen(2))
			})
		})

		When("only the quantity changes", func() {
			It("does not record a price", func() {
				qty := 3
				_, err := service.UpdateItem(ctx, item.ID, ItemPatch{Quantity: &qty})
				Expect(err).NotTo(HaveOccurred())

				observations, err := db.ListPrices(ctx, "Milk")
				Expect(err).NotTo(HaveOccurred())
				Expect(observations).To(HaveLen(1))
			})
		})

		It("returns ErrNotFound for an unknown item", func() {
			_, err := service.UpdateItem(ctx, 999, ItemPatch{Status: &needed})
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("rejects an invalid status", func() {
			bogus := Status("lost")
			_, err := service.UpdateItem(ctx, item.ID, ItemPatch{Status: &bogus})
			Expect(err).To(MatchError(ErrInvalidInput))
		})
	})

	Describe("DeleteItem", func() {
		It("removes the item and its shopping list entry", func() {
			item := createItem(NewItem{Name: "Milk", Price: 3.49})
			needed := StatusNeeded
			_, err := service.UpdateItem(ctx, item.ID, ItemPatch{Status: &needed})
			Expect(err).NotTo(HaveOccurred())

			Expect(service.DeleteItem(ctx, item.ID)).To(Succeed())

			list, err := service.ShoppingList(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Items).To(BeEmpty())
			Expect(service.DeleteItem(ctx, item.ID)).To(MatchError(ErrNotFound))
		})
	})

	Describe("images", func() {
		var item *Item

		JustBeforeEach(func() {
			item = createItem(NewItem{Name: "Milk", Price: 3.49})
			needed := StatusNeeded
			_, err := service.UpdateItem(ctx, item.ID, ItemPatch{Status: &needed})
			Expect(err).NotTo(HaveOccurred())
		})

		It("refreshes the item and shopping list image", func() {
			resolver.images["milk"] = imagery.Resolution{LocalPath: "/cache/new.jpg", SourceURL: "https://img.example/new.jpg"}

			updated, err := service.RefreshImage(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.ImageLocal).To(Equal("/cache/new.jpg"))
			Expect(resolver.refreshed).To(HaveLen(1))

			list, err := service.ShoppingList(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Items[0].ImageLocal).To(Equal("/cache/new.jpg"))
		})

		It("stores an uploaded image and clears the source URL", func() {
			updated, err := service.UploadImage(ctx, item.ID, []byte("png"))
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.ImageLocal).To(Equal("/cache/custom_milk.jpg"))
			Expect(updated.ImageURL).To(BeEmpty())
		})

		It("reports unsupported uploads as invalid input", func() {
			resolver.overrideErr = fmt.Errorf("processing image: %w", imagery.ErrUnsupportedImage)
			_, err := service.UploadImage(ctx, item.ID, []byte("text"))
			Expect(err).To(MatchError(ErrInvalidInput))
		})

		It("returns ErrNotFound for an unknown item", func() {
			_, err := service.RefreshImage(ctx, 999)
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("shopping list", func() {
		It("adds manual entries", func() {
			entry, err := service.AddShoppingEntry(ctx, NewShoppingEntry{Name: "Candles", Price: 4.5})
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.ItemID).To(BeNil())
			Expect(entry.Category).To(Equal(scanning.CategoryOther))

			_, err = service.AddShoppingEntry(ctx, NewShoppingEntry{})
			Expect(err).To(MatchError(ErrInvalidInput))
		})

		It("purchases an entry by restocking its item", func() {
			item := createItem(NewItem{Name: "Milk", Price: 3.49})
			needed := StatusNeeded
			_, err := service.UpdateItem(ctx, item.ID, ItemPatch{Status: &needed})
			Expect(err).NotTo(HaveOccurred())

			list, err := service.ShoppingList(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Items).To(HaveLen(1))

			timeSource.advance(72 * time.Hour)
			Expect(service.PurchaseShoppingEntry(ctx, list.Items[0].ID)).To(Succeed())

			got, err := db.GetItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(StatusHave))

			events, err := db.ListHistory(ctx, EventRestocked)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))

			list, err = service.ShoppingList(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Items).To(BeEmpty())
		})

		It("purchases a manual entry", func() {
			entry, err := service.AddShoppingEntry(ctx, NewShoppingEntry{Name: "Candles"})
			Expect(err).NotTo(HaveOccurred())
			Expect(service.PurchaseShoppingEntry(ctx, entry.ID)).To(Succeed())
			Expect(service.PurchaseShoppingEntry(ctx, entry.ID)).To(MatchError(ErrNotFound))
		})
	})

	Describe("GetSuggestions", func() {
		It("predicts restocks and attaches the current item", func() {
			item := createItem(NewItem{Name: "Milk", Category: scanning.CategoryFridge})
			for i := 0; i < 3; i++ {
				timeSource.advance(7 * 24 * time.Hour)
				Expect(db.Update(ctx, func(tx Tx) error {
					return tx.AppendHistory(&HistoryEvent{ItemName: "milk", Kind: EventRestocked, At: timeSource.Now()})
				})).To(Succeed())
			}
			timeSource.advance(7 * 24 * time.Hour)

			suggestions, err := service.GetSuggestions(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(suggestions).To(HaveLen(1))
			Expect(suggestions[0].DaysUntilNeeded).To(Equal(0))
			Expect(suggestions[0].Confidence).To(Equal(0.8))
			Expect(suggestions[0].ItemID).To(HaveValue(Equal(item.ID)))
			Expect(suggestions[0].Category).To(Equal(scanning.CategoryFridge))
		})
	})

	Describe("PriceHistoryForItem", func() {
		It("compares stores for the item's name", func() {
			item := createItem(NewItem{Name: "Milk", Price: 3.49, Store: "StoreA"})
			Expect(db.Update(ctx, func(tx Tx) error {
				return tx.AppendPrice(&PriceObservation{ItemName: "MILK", Store: "StoreB", Price: 2.99, At: days(1)})
			})).To(Succeed())

			prices, err := service.PriceHistoryForItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(prices).To(HaveLen(2))
			Expect(prices[0].Store).To(Equal("StoreB"))
			Expect(prices[0].Cheapest).To(BeTrue())
		})

		It("returns ErrNotFound for an unknown item", func() {
			_, err := service.PriceHistoryForItem(ctx, 999)
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("PushShoppingList", func() {
		BeforeEach(func() {
			pusher.failOn = map[string]bool{"Eggs": true}
		})

		It("pushes every entry and counts failures", func() {
			for _, name := range []string{"Milk", "Eggs", "Bread"} {
				_, err := service.AddShoppingEntry(ctx, NewShoppingEntry{Name: name})
				Expect(err).NotTo(HaveOccurred())
			}

			result, err := service.PushShoppingList(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pushed).To(Equal(2))
			Expect(result.Errors).To(Equal(1))
			Expect(pusher.pushed).To(ConsistOf("Milk", "Bread"))
		})

		When("no pusher is configured", func() {
			It("returns ErrPushNotConfigured", func() {
				service = NewServiceWithDeps(db, scanner, resolver, uploads, nil, &mockIDGenerator{id: "x"}, timeSource)
				_, err := service.PushShoppingList(ctx)
				Expect(err).To(MatchError(ErrPushNotConfigured))
			})
		})
	})
})
