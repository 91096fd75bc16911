// Package cart is the in-memory sale builder for one checkout session. The
// availability check here is advisory: it stops a single cart from exceeding
// stock on its own, but the authoritative check happens again inside the
// commit's transaction. The cart holds no lock on inventory.
package cart

import (
	"context"
	"fmt"

	"winepos/backend/internal/domain"
	"winepos/backend/internal/store"
)

// ProductLookup is the slice of the product ledger the cart needs.
type ProductLookup interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// Cart is owned by exactly one session and never shared. Lines are keyed by
// product id: re-adding a product merges quantities into the existing line.
type Cart struct {
	products ProductLookup
	lines    []domain.CartLine
}

func New(products ProductLookup) *Cart {
	return &Cart{products: products, lines: make([]domain.CartLine, 0, 8)}
}

// AddItem validates the requested quantity against current availability minus
// what this cart has already reserved for the product, then merges or appends
// the line. On any error the cart is left unchanged.
func (c *Cart) AddItem(ctx context.Context, productID string, qty int) error {
	if productID == "" || qty < 1 {
		return fmt.Errorf("%w: product id and positive quantity required", store.ErrValidation)
	}

	product, err := c.products.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	existing := -1
	reserved := 0
	for i, line := range c.lines {
		if line.ProductID == productID {
			existing = i
			reserved = line.Quantity
			break
		}
	}

	available := product.QuantityAvailable() - reserved
	if qty > available {
		return &store.InsufficientStockError{ProductID: productID, Available: available}
	}

	totalQty := reserved + qty
	line := domain.CartLine{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    totalQty,
		UnitPrice:   product.SellingPrice,
		LineTotal:   domain.LineTotal(product.SellingPrice, totalQty),
		Milliliters: product.Milliliters,
	}
	if existing >= 0 {
		c.lines[existing] = line
	} else {
		c.lines = append(c.lines, line)
	}
	return nil
}

// RemoveItem drops the line at index. Removal only decreases demand, so no
// re-validation is needed.
func (c *Cart) RemoveItem(index int) error {
	if index < 0 || index >= len(c.lines) {
		return fmt.Errorf("%w: line index out of range", store.ErrValidation)
	}
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
	return nil
}

// GrandTotal sums the already-rounded line totals so the result always
// matches receipt line arithmetic.
func (c *Cart) GrandTotal() float64 {
	total := 0.0
	for _, line := range c.lines {
		total += line.LineTotal
	}
	return domain.RoundMoney(total)
}

// Clear discards all lines, used on cancel and after a successful commit.
func (c *Cart) Clear() {
	c.lines = c.lines[:0]
}

func (c *Cart) Len() int {
	return len(c.lines)
}

// Lines returns a copy of the pending lines for hand-off to the committer.
func (c *Cart) Lines() []domain.CartLine {
	lines := make([]domain.CartLine, len(c.lines))
	copy(lines, c.lines)
	return lines
}
