package inventory

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/kitcheniq/internal/scanning"
)

var _ = Describe("Suggestions", func() {
	restocked := func(name string, dayOffsets ...int) []*HistoryEvent {
		events := make([]*HistoryEvent, 0, len(dayOffsets))
		for _, d := range dayOffsets {
			events = append(events, &HistoryEvent{ItemName: name, Kind: EventRestocked, At: days(d)})
		}
		return events
	}

	It("predicts the next restock from the average cycle", func() {
		suggestions := Suggestions(days(28), restocked("Milk", 0, 7, 14, 21), nil)

		Expect(suggestions).To(HaveLen(1))
		s := suggestions[0]
		Expect(s.ItemName).To(Equal("Milk"))
		Expect(s.AvgCycleDays).To(Equal(7))
		Expect(s.DaysSinceRestock).To(Equal(7))
		Expect(s.DaysUntilNeeded).To(Equal(0))
		Expect(s.Confidence).To(Equal(0.8))
		Expect(s.RestockCount).To(Equal(4))
		Expect(s.Category).To(Equal(scanning.CategoryOther))
		Expect(s.ItemID).To(BeNil())
	})

	It("caps confidence at 1", func() {
		suggestions := Suggestions(days(60), restocked("Rice", 0, 10, 20, 30, 40, 50), nil)
		Expect(suggestions).To(HaveLen(1))
		Expect(suggestions[0].Confidence).To(Equal(1.0))
	})

	It("skips products restocked only once", func() {
		Expect(Suggestions(days(10), restocked("Eggs", 0), nil)).To(BeEmpty())
	})

	It("skips products whose average cycle is under a day", func() {
		events := []*HistoryEvent{
			{ItemName: "Gum", Kind: EventRestocked, At: day0},
			{ItemName: "Gum", Kind: EventRestocked, At: day0.Add(3 * time.Hour)},
		}
		Expect(Suggestions(days(5), events, nil)).To(BeEmpty())
	})

	It("ignores needed events", func() {
		events := append(restocked("Milk", 0), &HistoryEvent{ItemName: "Milk", Kind: EventNeeded, At: days(5)})
		Expect(Suggestions(days(10), events, nil)).To(BeEmpty())
	})

	It("groups names case-insensitively", func() {
		events := append(restocked("Milk", 0, 7), restocked("MILK", 14)...)
		suggestions := Suggestions(days(20), events, nil)
		Expect(suggestions).To(HaveLen(1))
		Expect(suggestions[0].RestockCount).To(Equal(3))
		Expect(suggestions[0].DaysSinceRestock).To(Equal(6))
	})

	It("truncates partial days and rounds half cycles to even", func() {
		events := []*HistoryEvent{
			{ItemName: "Bread", Kind: EventRestocked, At: day0},
			{ItemName: "Bread", Kind: EventRestocked, At: days(2).Add(20 * time.Hour)},
			{ItemName: "Bread", Kind: EventRestocked, At: days(5).Add(20 * time.Hour)},
		}
		// gaps of 2 and 3 whole days average to 2.5
		suggestions := Suggestions(days(6).Add(23*time.Hour), events, nil)
		Expect(suggestions).To(HaveLen(1))
		Expect(suggestions[0].AvgCycleDays).To(Equal(2))
		Expect(suggestions[0].DaysSinceRestock).To(Equal(1))
		Expect(suggestions[0].DaysUntilNeeded).To(Equal(2))
	})

	It("orders the most overdue products first", func() {
		var events []*HistoryEvent
		events = append(events, restocked("Coffee", 0, 30)...)
		events = append(events, restocked("Milk", 20, 27)...)
		events = append(events, restocked("Soap", 0, 10)...)

		suggestions := Suggestions(days(30), events, nil)
		names := make([]string, 0, len(suggestions))
		for _, s := range suggestions {
			names = append(names, s.ItemName)
		}
		// Soap is 10 days overdue, Milk is due in 4, Coffee in 30
		Expect(names).To(Equal([]string{"Soap", "Milk", "Coffee"}))
		Expect(suggestions[0].DaysUntilNeeded).To(Equal(-10))
	})

	It("enriches suggestions with the current item", func() {
		lookup := func(name string) *Item {
			if name != "Milk" {
				return nil
			}
			return &Item{
				ID:         42,
				Name:       "Milk",
				Category:   scanning.CategoryFridge,
				ImageLocal: "/cache/milk.jpg",
				ImageURL:   "https://img.example/milk.jpg",
				Status:     StatusNeeded,
			}
		}

		suggestions := Suggestions(days(28), restocked("Milk", 0, 7, 14, 21), lookup)
		Expect(suggestions).To(HaveLen(1))
		Expect(suggestions[0].ItemID).To(HaveValue(Equal(int64(42))))
		Expect(suggestions[0].Category).To(Equal(scanning.CategoryFridge))
		Expect(suggestions[0].ImageLocal).To(Equal("/cache/milk.jpg"))
		Expect(suggestions[0].Status).To(Equal(StatusNeeded))
	})
})

var _ = Describe("ComparePrices", func() {
	It("keeps the latest price per store and marks the cheapest", func() {
		entries := ComparePrices([]*PriceObservation{
			{ItemName: "Milk", Store: "StoreA", Price: 4.00, At: days(0)},
			{ItemName: "Milk", Store: "StoreB", Price: 2.50, At: days(1)},
			{ItemName: "Milk", Store: "StoreA", Price: 3.00, At: days(2)},
		})

		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Store).To(Equal("StoreB"))
		Expect(entries[0].Price).To(Equal(2.50))
		Expect(entries[0].Cheapest).To(BeTrue())
		Expect(entries[1].Store).To(Equal("StoreA"))
		Expect(entries[1].Price).To(Equal(3.00))
		Expect(entries[1].RecordedAt).To(Equal(days(2)))
		Expect(entries[1].Cheapest).To(BeFalse())
	})

	It("returns an empty list without observations", func() {
		Expect(ComparePrices(nil)).To(BeEmpty())
	})
})
