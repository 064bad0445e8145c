package inventory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/storage/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(memory.NewStore(), nil)
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("item-%d", seq)
	}
	return svc
}

func TestAddItem(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	item, err := svc.AddItem(ctx, AddItemInput{
		Name:       "  Paracetamol 500mg ",
		PriceMinor: 3500,
		Stock:      40,
		StoreID:    "pharmacy-1",
		StoreName:  "City Pharmacy",
		Category:   "Medicine",
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if item.ID != "item-1" || item.Name != "Paracetamol 500mg" {
		t.Fatalf("unexpected item: %+v", item)
	}

	stored, err := svc.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if stored.Stock != 40 || stored.StoreName != "City Pharmacy" {
		t.Fatalf("unexpected stored item: %+v", stored)
	}
}

func TestAddItemValidation(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.AddItem(context.Background(), AddItemInput{PriceMinor: -1, Stock: -5})
	for _, want := range []error{domain.ErrItemNameRequired, domain.ErrStoreRequired, domain.ErrItemPriceInvalid, domain.ErrNegativeStock} {
		if !errors.Is(err, want) {
			t.Errorf("expected %v in %v", want, err)
		}
	}
}

func TestUpdateItem(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	offer := "2 for 1"

	item, err := svc.AddItem(ctx, AddItemInput{Name: "Milk", PriceMinor: 60, Stock: 10, StoreID: "s-1", Image: "milk.png", Offer: &offer})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	updated, err := svc.UpdateItem(ctx, UpdateItemInput{ID: item.ID, Name: "Milk 1L", Description: "Full cream", PriceMinor: 65, Stock: 3, Category: "Dairy"})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if updated.Name != "Milk 1L" || updated.Stock != 3 || updated.PriceMinor != 65 {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if updated.StoreID != "s-1" || updated.Image != "milk.png" || updated.Offer == nil {
		t.Fatalf("non-editable fields changed: %+v", updated)
	}
	if updated.Version != item.Version+1 {
		t.Fatalf("expected version bump, got %d -> %d", item.Version, updated.Version)
	}

	if _, err := svc.UpdateItem(ctx, UpdateItemInput{ID: "missing", Name: "x"}); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if _, err := svc.UpdateItem(ctx, UpdateItemInput{ID: item.ID, Name: "Milk", Stock: -1}); !errors.Is(err, domain.ErrNegativeStock) {
		t.Fatalf("expected ErrNegativeStock, got %v", err)
	}
}

func TestListAndSearch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	fixtures := []AddItemInput{
		{Name: "Brown Bread", Description: "Whole wheat loaf", PriceMinor: 45, Stock: 5, StoreID: "grocer"},
		{Name: "Cough Syrup", Description: "Soothes dry cough", PriceMinor: 120, Stock: 5, StoreID: "pharmacy"},
		{Name: "Bananas", Description: "Fresh, sold by dozen", PriceMinor: 50, Stock: 5, StoreID: "grocer"},
	}
	for _, input := range fixtures {
		if _, err := svc.AddItem(ctx, input); err != nil {
			t.Fatalf("add %s: %v", input.Name, err)
		}
	}

	grocer, err := svc.ListStoreItems(ctx, "grocer")
	if err != nil {
		t.Fatalf("list store items: %v", err)
	}
	if len(grocer) != 2 {
		t.Fatalf("expected 2 grocer items, got %d", len(grocer))
	}
	if _, err := svc.ListStoreItems(ctx, ""); !errors.Is(err, domain.ErrStoreRequired) {
		t.Fatalf("expected ErrStoreRequired, got %v", err)
	}

	cases := []struct {
		query string
		want  int
	}{
		{query: "", want: 3},
		{query: "BREAD", want: 1},
		{query: "cough bananas", want: 2},
		{query: "wheat", want: 1},
		{query: "chocolate", want: 0},
		{query: "   ", want: 3},
	}
	for _, tc := range cases {
		found, err := svc.SearchItems(ctx, tc.query)
		if err != nil {
			t.Fatalf("search %q: %v", tc.query, err)
		}
		if len(found) != tc.want {
			t.Fatalf("search %q: expected %d items, got %d", tc.query, tc.want, len(found))
		}
	}
}

func TestWithoutStore(t *testing.T) {
	svc := NewService(nil, nil)
	if _, err := svc.SearchItems(context.Background(), "x"); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := svc.AddItem(context.Background(), AddItemInput{}); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
