package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"winepos/backend/internal/domain"
	"winepos/backend/internal/store"
	"winepos/backend/internal/store/memory"
)

var (
	testAdmin   = domain.Actor{ID: 1, Username: "admin", Role: domain.RoleAdmin, FullName: "Administrator"}
	testCashier = domain.Actor{ID: 2, Username: "mary", Role: domain.RoleCashier, FullName: "Mary Cashier"}
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	svc := New(repo, nil, time.Second)

	ctx := WithActor(context.Background(), testAdmin)
	products := []domain.ProductCreateRequest{
		{ID: "WINE-CAB-750", Name: "Cabernet Sauvignon Reserve", Milliliters: 750, CostPrice: 18000, SellingPrice: 26500, QuantityStocked: 10},
		{ID: "WINE-SPK-750", Name: "Sparkling Brut", Milliliters: 750, CostPrice: 22000, SellingPrice: 34000, QuantityStocked: 1},
		{ID: "WSK-SGL-700", Name: "Single Malt Whisky", Milliliters: 700, CostPrice: 95000, SellingPrice: 132000, QuantityStocked: 5},
	}
	for _, req := range products {
		if _, err := svc.CreateProduct(ctx, req); err != nil {
			t.Fatalf("seed product %s: %v", req.ID, err)
		}
	}
	return svc, repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), testCashier)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), testAdmin)
}

func TestCommitSaleDeductsStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	c := svc.NewCart()
	if err := c.AddItem(ctx, "WINE-CAB-750", 4); err != nil {
		t.Fatalf("add 4: %v", err)
	}
	if err := c.AddItem(ctx, "WINE-CAB-750", 3); err != nil {
		t.Fatalf("add 3: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected merged single line, got %d lines", c.Len())
	}

	resp, err := svc.CommitSale(ctx, c.Lines())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if resp.SaleID < 1 {
		t.Fatalf("expected positive sale id, got %d", resp.SaleID)
	}
	if want := domain.LineTotal(26500, 7); resp.GrandTotal != want {
		t.Fatalf("grand total = %v, want %v", resp.GrandTotal, want)
	}

	p, err := svc.GetProduct(ctx, "WINE-CAB-750")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.QuantitySold != 7 {
		t.Fatalf("quantity sold = %d, want 7", p.QuantitySold)
	}
	if p.QuantityAvailable() != 3 {
		t.Fatalf("available = %d, want 3", p.QuantityAvailable())
	}
}

func TestCommitSaleLastUnitRace(t *testing.T) {
	svc, _ := newTestService(t)

	line := domain.CartLine{
		ProductID:   "WINE-SPK-750",
		ProductName: "Sparkling Brut",
		Quantity:    1,
		UnitPrice:   34000,
		LineTotal:   domain.LineTotal(34000, 1),
		Milliliters: 750,
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CommitSale(cashierCtx(), []domain.CartLine{line})
			results[i] = err
		}(i)
	}
	wg.Wait()

	var committed, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			committed++
		default:
			stockErr, ok := store.IsInsufficientStock(err)
			if !ok {
				t.Fatalf("unexpected error: %v", err)
			}
			if stockErr.Available != 0 {
				t.Fatalf("available = %d, want 0", stockErr.Available)
			}
			rejected++
		}
	}
	if committed != 1 || rejected != 1 {
		t.Fatalf("committed=%d rejected=%d, want exactly one of each", committed, rejected)
	}

	p, err := svc.GetProduct(cashierCtx(), "WINE-SPK-750")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.QuantitySold != 1 {
		t.Fatalf("quantity sold = %d, want 1", p.QuantitySold)
	}
}

func TestCommitSaleSplitLinesSameProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	mkLine := func(qty int) domain.CartLine {
		return domain.CartLine{
			ProductID:   "WSK-SGL-700",
			ProductName: "Single Malt Whisky",
			Quantity:    qty,
			UnitPrice:   132000,
			LineTotal:   domain.LineTotal(132000, qty),
			Milliliters: 700,
		}
	}

	// 3+3 across two lines of the same product exceeds the 5 in stock;
	// per-line checks alone would let it through.
	_, err := svc.CommitSale(ctx, []domain.CartLine{mkLine(3), mkLine(3)})
	stockErr, ok := store.IsInsufficientStock(err)
	if !ok {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if stockErr.Available != 5 {
		t.Fatalf("available = %d, want 5", stockErr.Available)
	}

	p, err := svc.GetProduct(ctx, "WSK-SGL-700")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.QuantitySold != 0 {
		t.Fatalf("quantity sold = %d after rejection, want 0", p.QuantitySold)
	}
	if p.QuantityAvailable() != 5 {
		t.Fatalf("available = %d, want 5", p.QuantityAvailable())
	}

	if _, err := svc.CommitSale(ctx, []domain.CartLine{mkLine(2), mkLine(3)}); err != nil {
		t.Fatalf("commit within stock: %v", err)
	}
	p, _ = svc.GetProduct(ctx, "WSK-SGL-700")
	if p.QuantitySold != 5 {
		t.Fatalf("quantity sold = %d, want 5", p.QuantitySold)
	}
}

func TestSaleDetailsSurviveProductEdit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	c := svc.NewCart()
	if err := c.AddItem(ctx, "WSK-SGL-700", 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	resp, err := svc.CommitSale(ctx, c.Lines())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	newPrice := 150000.0
	if _, err := svc.UpdateProduct(adminCtx(), "WSK-SGL-700", domain.ProductUpdateRequest{SellingPrice: &newPrice}); err != nil {
		t.Fatalf("update product: %v", err)
	}

	details, err := svc.GetSaleDetails(ctx, resp.SaleID)
	if err != nil {
		t.Fatalf("sale details: %v", err)
	}
	if len(details.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(details.Items))
	}
	item := details.Items[0]
	if item.UnitPrice != 132000 {
		t.Fatalf("unit price = %v, want price at sale time 132000", item.UnitPrice)
	}
	if item.LineTotal != domain.LineTotal(132000, 2) {
		t.Fatalf("line total = %v", item.LineTotal)
	}
	if details.Sale.CashierName != testCashier.FullName {
		t.Fatalf("cashier name = %q", details.Sale.CashierName)
	}
}

func TestRunReportTotalsAndRollups(t *testing.T) {
	svc, _ := newTestService(t)
	from := time.Now().UTC().Add(-time.Minute)

	commit := func(ctx context.Context, productID string, qty int) {
		t.Helper()
		c := svc.NewCart()
		if err := c.AddItem(ctx, productID, qty); err != nil {
			t.Fatalf("add %s: %v", productID, err)
		}
		if _, err := svc.CommitSale(ctx, c.Lines()); err != nil {
			t.Fatalf("commit %s: %v", productID, err)
		}
	}

	commit(cashierCtx(), "WINE-CAB-750", 2)
	commit(cashierCtx(), "WSK-SGL-700", 1)
	commit(adminCtx(), "WINE-CAB-750", 1)

	to := time.Now().UTC().Add(time.Minute)
	summary, err := svc.RunReport(adminCtx(), from, to)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if summary.Transactions != 3 {
		t.Fatalf("transactions = %d, want 3", summary.Transactions)
	}
	wantSales := domain.RoundMoney(26500*3 + 132000)
	if summary.TotalSales != wantSales {
		t.Fatalf("total sales = %v, want %v", summary.TotalSales, wantSales)
	}
	// Profit against current cost: (26500-18000)*3 + (132000-95000)*1.
	wantProfit := domain.RoundMoney(8500*3 + 37000)
	if summary.TotalProfit != wantProfit {
		t.Fatalf("total profit = %v, want %v", summary.TotalProfit, wantProfit)
	}

	if len(summary.ByCashier) != 2 {
		t.Fatalf("expected 2 cashier rollups, got %d", len(summary.ByCashier))
	}
	top := summary.ByCashier[0]
	if top.CashierName != testCashier.FullName || top.Sales != 2 {
		t.Fatalf("top rollup = %+v", top)
	}
}

func TestReportUsesCurrentCostPrice(t *testing.T) {
	svc, _ := newTestService(t)
	from := time.Now().UTC().Add(-time.Minute)

	c := svc.NewCart()
	if err := c.AddItem(cashierCtx(), "WINE-CAB-750", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.CommitSale(cashierCtx(), c.Lines()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	newCost := 20000.0
	if _, err := svc.UpdateProduct(adminCtx(), "WINE-CAB-750", domain.ProductUpdateRequest{CostPrice: &newCost}); err != nil {
		t.Fatalf("update cost: %v", err)
	}

	summary, err := svc.RunReport(adminCtx(), from, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if want := domain.RoundMoney(26500 - 20000); summary.TotalProfit != want {
		t.Fatalf("profit = %v, want %v against updated cost", summary.TotalProfit, want)
	}
}

func TestCommitSaleRequiresActor(t *testing.T) {
	svc, _ := newTestService(t)

	line := domain.CartLine{ProductID: "WINE-CAB-750", Quantity: 1, UnitPrice: 26500, LineTotal: 26500}
	_, err := svc.CommitSale(context.Background(), []domain.CartLine{line})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden without authenticated actor, got %v", err)
	}
}

func TestCommitSaleEmptyCart(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CommitSale(cashierCtx(), nil)
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProductWritesRequireAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{ID: "X", Name: "X", SellingPrice: 1})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier create, got %v", err)
	}
	if err := svc.DeleteProduct(cashierCtx(), "WINE-CAB-750"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier delete, got %v", err)
	}
	if _, err := svc.RunReport(cashierCtx(), time.Now().Add(-time.Hour), time.Now()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier report, got %v", err)
	}
}

func TestUpdateProductCannotStockBelowSold(t *testing.T) {
	svc, _ := newTestService(t)

	c := svc.NewCart()
	if err := c.AddItem(cashierCtx(), "WSK-SGL-700", 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.CommitSale(cashierCtx(), c.Lines()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	lower := 2
	_, err := svc.UpdateProduct(adminCtx(), "WSK-SGL-700", domain.ProductUpdateRequest{QuantityStocked: &lower})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckAvailability(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	if err := svc.CheckAvailability(ctx, "WINE-SPK-750", 1); err != nil {
		t.Fatalf("expected available, got %v", err)
	}
	err := svc.CheckAvailability(ctx, "WINE-SPK-750", 2)
	stockErr, ok := store.IsInsufficientStock(err)
	if !ok {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if stockErr.Available != 1 {
		t.Fatalf("available = %d, want 1", stockErr.Available)
	}
	if err := svc.CheckAvailability(ctx, "NOPE", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeletedProductZeroCostBasis(t *testing.T) {
	svc, _ := newTestService(t)
	from := time.Now().UTC().Add(-time.Minute)

	c := svc.NewCart()
	if err := c.AddItem(cashierCtx(), "WINE-SPK-750", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	resp, err := svc.CommitSale(cashierCtx(), c.Lines())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := svc.DeleteProduct(adminCtx(), "WINE-SPK-750"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	details, err := svc.GetSaleDetails(cashierCtx(), resp.SaleID)
	if err != nil {
		t.Fatalf("sale details after delete: %v", err)
	}
	if details.Items[0].ProductName != "Sparkling Brut" {
		t.Fatalf("expected snapshot name, got %q", details.Items[0].ProductName)
	}

	summary, err := svc.RunReport(adminCtx(), from, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	// Cost basis drops to zero once the product is gone, so profit equals
	// the full sale amount.
	if summary.TotalProfit != 34000 {
		t.Fatalf("profit = %v, want 34000", summary.TotalProfit)
	}
}

func TestAuditTrail(t *testing.T) {
	svc, _ := newTestService(t)
	from := time.Now().UTC().Add(-time.Minute)

	c := svc.NewCart()
	if err := c.AddItem(cashierCtx(), "WINE-CAB-750", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.CommitSale(cashierCtx(), c.Lines()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), from, time.Now().UTC().Add(time.Minute), 50)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}

	var sawCommit bool
	for _, entry := range logs {
		if entry.Action == "sale_commit" && entry.ActorUsername == testCashier.Username {
			sawCommit = true
		}
	}
	if !sawCommit {
		t.Fatal("expected a sale_commit audit entry")
	}
}
