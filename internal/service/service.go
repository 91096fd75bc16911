package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"winepos/backend/internal/cache"
	"winepos/backend/internal/cart"
	"winepos/backend/internal/domain"
	"winepos/backend/internal/metrics"
	"winepos/backend/internal/store"
)

// ErrForbidden is returned when the request carries no authenticated actor
// or the actor's role is not allowed for the operation.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

// WithActor attaches the authenticated user to the context. The committer
// reads cashier identity from here; there is no process-global session.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	products cache.ProductCache
	cacheTTL time.Duration
}

func New(repo store.Repository, products cache.ProductCache, cacheTTL time.Duration) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{repo: repo, products: products, cacheTTL: cacheTTL}
}

// GetProduct serves the barcode-scan hot path through the cache. Cached
// entries are advisory; anything that decides stock goes to the store.
func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, store.ErrValidation
	}

	if cached, ok, err := s.products.Get(ctx, id); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: product cache get %s: %v", id, err)
	}

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.products.Set(ctx, *product, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: product cache set %s: %v", id, err)
	}
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// CheckAvailability is the ledger's pure validation: no mutation, fails with
// ErrNotFound for unknown products and InsufficientStockError when the
// requested quantity exceeds stocked minus sold.
func (s *Service) CheckAvailability(ctx context.Context, id string, requestedQty int) error {
	if requestedQty < 1 {
		return store.ErrValidation
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if available := product.QuantityAvailable(); requestedQty > available {
		return &store.InsufficientStockError{ProductID: id, Available: available}
	}
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	req.ID = strings.ToUpper(strings.TrimSpace(req.ID))
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" || req.Name == "" {
		return domain.Product{}, store.ErrValidation
	}
	if req.SellingPrice < 0 || req.CostPrice < 0 || req.QuantityStocked < 0 || req.Milliliters < 0 {
		return domain.Product{}, store.ErrValidation
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:              req.ID,
		Name:            req.Name,
		Description:     strings.TrimSpace(req.Description),
		Milliliters:     req.Milliliters,
		CostPrice:       req.CostPrice,
		SellingPrice:    req.SellingPrice,
		QuantityStocked: req.QuantityStocked,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, actor, "product_create", "product", created.ID,
		fmt.Sprintf("name=%s,price=%.2f,stock=%d", created.Name, created.SellingPrice, created.QuantityStocked))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return domain.Product{}, store.ErrValidation
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Milliliters != nil {
		if *req.Milliliters < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.Milliliters = *req.Milliliters
	}
	if req.CostPrice != nil {
		if *req.CostPrice < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.SellingPrice != nil {
		if *req.SellingPrice < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.SellingPrice = *req.SellingPrice
	}
	if req.QuantityStocked != nil {
		if *req.QuantityStocked < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.QuantityStocked = *req.QuantityStocked
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.products.Delete(ctx, saved.ID); err != nil {
		log.Printf("[service] WARN: product cache invalidate %s: %v", saved.ID, err)
	}
	s.logAudit(ctx, actor, "product_update", "product", saved.ID,
		fmt.Sprintf("price=%.2f,stocked=%d", saved.SellingPrice, saved.QuantityStocked))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}

	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return store.ErrValidation
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}

	if err := s.products.Delete(ctx, id); err != nil {
		log.Printf("[service] WARN: product cache invalidate %s: %v", id, err)
	}
	s.logAudit(ctx, actor, "product_delete", "product", id, "")
	return nil
}

// NewCart starts an empty sale builder backed by this service's ledger view.
func (s *Service) NewCart() *cart.Cart {
	return cart.New(s)
}

// CommitSale hands the cart to the store's atomic unit of work. The store
// re-validates every line against current stock (not the cart's stale
// snapshot), inserts header and items, and deducts inventory; on any failure
// nothing is persisted and the whole call may be retried.
func (s *Service) CommitSale(ctx context.Context, lines []domain.CartLine) (domain.CheckoutResponse, error) {
	actor, err := requireRole(ctx, domain.RoleCashier, domain.RoleAdmin)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if len(lines) == 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: empty cart", store.ErrValidation)
	}

	saleID, err := s.repo.CreateSale(ctx, actor, lines)
	if err != nil {
		if _, ok := store.IsInsufficientStock(err); ok {
			metrics.OversellRejections.Inc()
		}
		if errors.Is(err, store.ErrBusy) {
			metrics.StoreBusyRetries.Inc()
		}
		return domain.CheckoutResponse{}, err
	}
	metrics.SalesCommitted.Inc()

	grandTotal := 0.0
	for _, line := range lines {
		grandTotal += line.LineTotal
		if err := s.products.Delete(ctx, line.ProductID); err != nil {
			log.Printf("[service] WARN: product cache invalidate %s: %v", line.ProductID, err)
		}
	}

	s.logAudit(ctx, actor, "sale_commit", "sale", fmt.Sprintf("%d", saleID),
		fmt.Sprintf("lines=%d,total=%.2f", len(lines), grandTotal))

	return domain.CheckoutResponse{
		SaleID:     saleID,
		GrandTotal: domain.RoundMoney(grandTotal),
		ItemCount:  len(lines),
		Lines:      lines,
		SaleDate:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Service) GetSaleDetails(ctx context.Context, saleID int64) (*domain.SaleDetails, error) {
	if saleID < 1 {
		return nil, store.ErrValidation
	}
	return s.repo.GetSaleDetails(ctx, saleID)
}

// RunReport aggregates committed sales in [from, to). Per-sale profit uses
// each product's current cost price rather than the cost at sale time; this
// matches the shop's established bookkeeping and is intentionally not a
// historical snapshot.
func (s *Service) RunReport(ctx context.Context, from time.Time, to time.Time) (domain.ReportSummary, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.ReportSummary{}, err
	}
	if !from.Before(to) {
		return domain.ReportSummary{}, fmt.Errorf("%w: empty report period", store.ErrValidation)
	}

	rows, err := s.repo.ListSales(ctx, from, to)
	if err != nil {
		return domain.ReportSummary{}, err
	}
	rollups, err := s.repo.CashierRollups(ctx, from, to)
	if err != nil {
		return domain.ReportSummary{}, err
	}

	summary := domain.ReportSummary{
		From:      from.UTC(),
		To:        to.UTC(),
		Rows:      rows,
		ByCashier: rollups,
	}
	for _, row := range rows {
		summary.Transactions++
		summary.TotalSales = domain.RoundMoney(summary.TotalSales + row.GrandTotal)
		summary.TotalProfit = domain.RoundMoney(summary.TotalProfit + row.Profit)
	}
	return summary, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: %s role required", ErrForbidden, strings.Join(roles, " or "))
}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, action, entityType, entityID, detail string) {
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: audit log %s %s: %v", action, entityID, err)
	}
}
