package cart

import (
	"context"
	"errors"
	"testing"

	"winepos/backend/internal/domain"
	"winepos/backend/internal/store"
)

type stubLookup struct {
	products map[string]domain.Product
}

func (s *stubLookup) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func newStubLookup() *stubLookup {
	return &stubLookup{products: map[string]domain.Product{
		"WINE-CAB-750": {ID: "WINE-CAB-750", Name: "Cabernet Sauvignon Reserve", Milliliters: 750, SellingPrice: 26500, QuantityStocked: 10},
		"WINE-SPK-750": {ID: "WINE-SPK-750", Name: "Sparkling Brut", Milliliters: 750, SellingPrice: 12.25, QuantityStocked: 5, QuantitySold: 3},
	}}
}

func TestAddItemMergesDuplicateProduct(t *testing.T) {
	c := New(newStubLookup())
	ctx := context.Background()

	if err := c.AddItem(ctx, "WINE-CAB-750", 4); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := c.AddItem(ctx, "WINE-CAB-750", 3); err != nil {
		t.Fatalf("second add failed: %v", err)
	}

	lines := c.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 merged line, got %d", len(lines))
	}
	if lines[0].Quantity != 7 {
		t.Fatalf("expected merged quantity 7, got %d", lines[0].Quantity)
	}
	want := domain.LineTotal(26500, 7)
	if lines[0].LineTotal != want {
		t.Fatalf("expected line total %v, got %v", want, lines[0].LineTotal)
	}
}

func TestAddItemRejectsBeyondAvailability(t *testing.T) {
	c := New(newStubLookup())
	ctx := context.Background()

	// WINE-SPK-750 has 5 stocked, 3 sold: 2 available.
	err := c.AddItem(ctx, "WINE-SPK-750", 5)
	ise, ok := store.IsInsufficientStock(err)
	if !ok {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if ise.ProductID != "WINE-SPK-750" || ise.Available != 2 {
		t.Fatalf("unexpected error detail: %+v", ise)
	}
	if c.Len() != 0 {
		t.Fatalf("cart should remain empty after rejected add, has %d lines", c.Len())
	}
}

func TestAddItemCountsAlreadyReservedQuantity(t *testing.T) {
	c := New(newStubLookup())
	ctx := context.Background()

	if err := c.AddItem(ctx, "WINE-SPK-750", 2); err != nil {
		t.Fatalf("add within availability failed: %v", err)
	}

	err := c.AddItem(ctx, "WINE-SPK-750", 1)
	ise, ok := store.IsInsufficientStock(err)
	if !ok {
		t.Fatalf("expected insufficient stock once cart reserves all units, got %v", err)
	}
	if ise.Available != 0 {
		t.Fatalf("expected 0 remaining available, got %d", ise.Available)
	}
	if got := c.Lines()[0].Quantity; got != 2 {
		t.Fatalf("reserved quantity should be unchanged, got %d", got)
	}
}

func TestAddItemUnknownProduct(t *testing.T) {
	c := New(newStubLookup())

	err := c.AddItem(context.Background(), "NO-SUCH-ID", 1)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddItemValidation(t *testing.T) {
	c := New(newStubLookup())

	if err := c.AddItem(context.Background(), "WINE-CAB-750", 0); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
	if err := c.AddItem(context.Background(), "", 1); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}
}

func TestGrandTotalSumsRoundedLineTotals(t *testing.T) {
	c := New(newStubLookup())
	ctx := context.Background()

	if err := c.AddItem(ctx, "WINE-CAB-750", 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.AddItem(ctx, "WINE-SPK-750", 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	lines := c.Lines()
	want := 0.0
	for _, line := range lines {
		if line.LineTotal != domain.LineTotal(line.UnitPrice, line.Quantity) {
			t.Fatalf("line total for %s does not match round(price*qty)", line.ProductID)
		}
		want += line.LineTotal
	}
	if got := c.GrandTotal(); got != domain.RoundMoney(want) {
		t.Fatalf("grand total %v != sum of line totals %v", got, want)
	}
}

func TestRemoveItemAndClear(t *testing.T) {
	c := New(newStubLookup())
	ctx := context.Background()

	if err := c.AddItem(ctx, "WINE-CAB-750", 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.AddItem(ctx, "WINE-SPK-750", 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := c.RemoveItem(5); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bad index, got %v", err)
	}
	if err := c.RemoveItem(0); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 line after removal, got %d", c.Len())
	}
	if c.Lines()[0].ProductID != "WINE-SPK-750" {
		t.Fatalf("wrong line removed")
	}

	c.Clear()
	if c.Len() != 0 || c.GrandTotal() != 0 {
		t.Fatalf("clear should empty the cart")
	}
}
