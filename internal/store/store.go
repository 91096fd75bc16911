package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"winepos/backend/internal/domain"
)

var (
	// ErrNotFound is returned when a product, sale or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed input (empty id, non-positive
	// quantity or price, unknown role).
	ErrValidation = errors.New("invalid input")
	// ErrBusy is returned when the store's write lock could not be acquired
	// within the configured wait. The whole operation may be retried: an
	// aborted commit leaves no partial state.
	ErrBusy = errors.New("store busy")
	// ErrIntegrity is returned on constraint violations such as a duplicate
	// product id. Never retried with the same input.
	ErrIntegrity = errors.New("integrity violation")
)

// InsufficientStockError names the offending product and how many units were
// actually available when the request failed.
type InsufficientStockError struct {
	ProductID string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %d available", e.ProductID, e.Available)
}

// IsInsufficientStock reports whether err is an insufficient-stock failure
// and returns the typed error when it is.
func IsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var ise *InsufficientStockError
	if errors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}

// NewAuditID returns an identifier for one audit entry: a base-36 millisecond
// timestamp, so ids sort roughly by creation time, plus four random bytes.
func NewAuditID() string {
	stamp := strconv.FormatInt(time.Now().UTC().UnixMilli(), 36)
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("audit_%s_%d", stamp, time.Now().UnixNano())
	}
	return fmt.Sprintf("audit_%s_%s", stamp, hex.EncodeToString(buf))
}

// Repository is the persistence capability the engine depends on. CreateSale
// is the single atomic unit of work: it re-validates availability against
// current stock, inserts the sale header and items, and increments each
// product's quantity_sold, all inside one transaction. Either the whole sale
// exists with matching deductions afterwards, or nothing does.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	CreateSale(ctx context.Context, cashier domain.Actor, lines []domain.CartLine) (int64, error)
	GetSaleDetails(ctx context.Context, saleID int64) (*domain.SaleDetails, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.ReportRow, error)
	CashierRollups(ctx context.Context, from time.Time, to time.Time) ([]domain.CashierRollup, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error
}
