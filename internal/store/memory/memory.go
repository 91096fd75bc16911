// Package memory implements store.Repository with in-process maps. It backs
// the service tests and the dev mode of the server; the exclusive mutex on
// CreateSale gives the same all-or-nothing serialized commits the sqlite
// store gets from its transactions.
package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"winepos/backend/internal/domain"
	"winepos/backend/internal/store"
)

type Store struct {
	mu         sync.RWMutex
	products   map[string]domain.Product
	sales      map[int64]domain.Sale
	saleItems  map[int64][]domain.SaleItem
	auditLogs  []domain.AuditLog
	users      map[string]domain.UserAccount
	nextSaleID int64
	nextItemID int64
	nextUserID int64
}

func New() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		sales:     make(map[int64]domain.Sale),
		saleItems: make(map[int64][]domain.SaleItem),
		auditLogs: make([]domain.AuditLog, 0, 64),
		users:     make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store pre-populated with a small wine catalogue and an
// admin/cashier pair for dev and demo runs. Credentials come from
// SEED_ADMIN_PASSWORD / SEED_CASHIER_PASSWORD, falling back to dev defaults
// with a warning.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, p := range []domain.Product{
		{ID: "WINE-CAB-750", Name: "Cabernet Sauvignon Reserve", Description: "Dry red", Milliliters: 750, CostPrice: 18000, SellingPrice: 26500, QuantityStocked: 48},
		{ID: "WINE-MER-750", Name: "Merlot Estate", Description: "Medium red", Milliliters: 750, CostPrice: 14000, SellingPrice: 21000, QuantityStocked: 36},
		{ID: "WINE-CHD-750", Name: "Chardonnay Classic", Description: "Dry white", Milliliters: 750, CostPrice: 12500, SellingPrice: 19500, QuantityStocked: 40},
		{ID: "WINE-SPK-750", Name: "Sparkling Brut", Description: "Celebration bottle", Milliliters: 750, CostPrice: 22000, SellingPrice: 34000, QuantityStocked: 24},
		{ID: "GIN-LND-500", Name: "London Dry Gin", Description: "", Milliliters: 500, CostPrice: 28000, SellingPrice: 39000, QuantityStocked: 18},
		{ID: "WSK-SGL-700", Name: "Single Malt Whisky", Description: "12 year", Milliliters: 700, CostPrice: 95000, SellingPrice: 132000, QuantityStocked: 12},
	} {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	for _, u := range []struct {
		username string
		password string
		role     string
		fullName string
	}{
		{"admin", adminPwd, domain.RoleAdmin, "Administrator"},
		{"cashier", cashierPwd, domain.RoleCashier, "Default Cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		s.nextUserID++
		s.users[u.username] = domain.UserAccount{
			ID:           s.nextUserID,
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			FullName:     u.fullName,
			Active:       true,
			CreatedAt:    now,
		}
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrValidation
	}
	if product.SellingPrice < 0 || product.CostPrice < 0 || product.QuantityStocked < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate product id %s", store.ErrIntegrity, product.ID)
	}

	now := time.Now().UTC()
	product.QuantitySold = 0
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product

	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := p
	return &found, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrValidation
	}
	if product.SellingPrice < 0 || product.CostPrice < 0 || product.QuantityStocked < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if product.QuantityStocked < existing.QuantitySold {
		return nil, fmt.Errorf("%w: stocked quantity below sold quantity", store.ErrValidation)
	}

	product.QuantitySold = existing.QuantitySold
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) CreateSale(_ context.Context, cashier domain.Actor, lines []domain.CartLine) (int64, error) {
	if len(lines) == 0 {
		return 0, fmt.Errorf("%w: empty cart", store.ErrValidation)
	}
	if cashier.ID < 1 || cashier.FullName == "" {
		return 0, fmt.Errorf("%w: missing cashier", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before mutating anything so a failed commit leaves
	// no partial state. Lines may repeat a product id, so availability is
	// checked against the summed demand per product, not per line.
	grandTotal := 0.0
	needed := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.ProductID == "" || line.Quantity < 1 || line.UnitPrice < 0 {
			return 0, fmt.Errorf("%w: malformed line for %q", store.ErrValidation, line.ProductID)
		}
		if line.LineTotal != domain.LineTotal(line.UnitPrice, line.Quantity) {
			return 0, fmt.Errorf("%w: line total mismatch for %s", store.ErrValidation, line.ProductID)
		}
		if _, ok := s.products[line.ProductID]; !ok {
			return 0, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
		}
		needed[line.ProductID] += line.Quantity
		grandTotal += line.LineTotal
	}
	for _, line := range lines {
		p := s.products[line.ProductID]
		if available := p.QuantityAvailable(); available < needed[line.ProductID] {
			return 0, &store.InsufficientStockError{ProductID: line.ProductID, Available: available}
		}
	}
	grandTotal = domain.RoundMoney(grandTotal)

	s.nextSaleID++
	saleID := s.nextSaleID
	saleDate := time.Now().UTC()

	s.sales[saleID] = domain.Sale{
		ID:          saleID,
		CashierID:   cashier.ID,
		CashierName: cashier.FullName,
		SaleDate:    saleDate,
		GrandTotal:  grandTotal,
	}

	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		s.nextItemID++
		items = append(items, domain.SaleItem{
			ID:          s.nextItemID,
			SaleID:      saleID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
			Milliliters: line.Milliliters,
		})

		p := s.products[line.ProductID]
		p.QuantitySold += line.Quantity
		p.UpdatedAt = saleDate
		s.products[line.ProductID] = p
	}
	s.saleItems[saleID] = items

	return saleID, nil
}

func (s *Store) GetSaleDetails(_ context.Context, saleID int64) (*domain.SaleDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	items := make([]domain.SaleItem, len(s.saleItems[saleID]))
	copy(items, s.saleItems[saleID])
	return &domain.SaleDetails{Sale: sale, Items: items}, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.ReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.ReportRow, 0, len(s.sales))
	for id, sale := range s.sales {
		if sale.SaleDate.Before(from) || !sale.SaleDate.Before(to) {
			continue
		}
		profit := 0.0
		for _, item := range s.saleItems[id] {
			costPrice := 0.0
			if p, ok := s.products[item.ProductID]; ok {
				costPrice = p.CostPrice
			}
			profit += item.LineTotal - costPrice*float64(item.Quantity)
		}
		rows = append(rows, domain.ReportRow{
			SaleID:      sale.ID,
			SaleDate:    sale.SaleDate,
			CashierName: sale.CashierName,
			ItemCount:   len(s.saleItems[id]),
			GrandTotal:  sale.GrandTotal,
			Profit:      domain.RoundMoney(profit),
		})
	}
	slices.SortFunc(rows, func(a, b domain.ReportRow) int {
		return b.SaleDate.Compare(a.SaleDate)
	})
	return rows, nil
}

func (s *Store) CashierRollups(_ context.Context, from time.Time, to time.Time) ([]domain.CashierRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byName := make(map[string]*domain.CashierRollup)
	for _, sale := range s.sales {
		if sale.SaleDate.Before(from) || !sale.SaleDate.Before(to) {
			continue
		}
		rollup, ok := byName[sale.CashierName]
		if !ok {
			rollup = &domain.CashierRollup{CashierName: sale.CashierName}
			byName[sale.CashierName] = rollup
		}
		rollup.Sales++
		rollup.TotalSales = domain.RoundMoney(rollup.TotalSales + sale.GrandTotal)
	}

	result := make([]domain.CashierRollup, 0, len(byName))
	for _, rollup := range byName {
		result = append(result, *rollup)
	}
	slices.SortFunc(result, func(a, b domain.CashierRollup) int {
		switch {
		case a.TotalSales > b.TotalSales:
			return -1
		case a.TotalSales < b.TotalSales:
			return 1
		default:
			return strings.Compare(a.CashierName, b.CashierName)
		}
	})
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = store.NewAuditID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if user.Username == "" || user.PasswordHash == "" || user.FullName == "" {
		return nil, store.ErrValidation
	}
	if user.Role != domain.RoleAdmin && user.Role != domain.RoleCashier {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return nil, fmt.Errorf("%w: duplicate username %s", store.ErrIntegrity, user.Username)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.nextUserID++
	user.ID = s.nextUserID
	s.users[user.Username] = user

	created := user
	return &created, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, passwordHash string) error {
	if username == "" || passwordHash == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	s.users[username] = user
	return nil
}
