package domain

import (
	"math"
	"time"
)

// Product is the inventory record for one sellable item. Stock is tracked as
// two monotonic counters (stocked, sold); the sellable quantity and the unit
// profit are always derived, never stored.
type Product struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Milliliters     int       `json:"milliliters"`
	CostPrice       float64   `json:"cost_price"`
	SellingPrice    float64   `json:"selling_price"`
	QuantityStocked int       `json:"quantity_stocked"`
	QuantitySold    int       `json:"quantity_sold"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (p Product) Profit() float64 {
	return RoundMoney(p.SellingPrice - p.CostPrice)
}

func (p Product) QuantityAvailable() int {
	return p.QuantityStocked - p.QuantitySold
}

type ProductCreateRequest struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Milliliters     int     `json:"milliliters"`
	CostPrice       float64 `json:"cost_price"`
	SellingPrice    float64 `json:"selling_price"`
	QuantityStocked int     `json:"quantity_stocked"`
}

type ProductUpdateRequest struct {
	Name            *string  `json:"name,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Milliliters     *int     `json:"milliliters,omitempty"`
	CostPrice       *float64 `json:"cost_price,omitempty"`
	SellingPrice    *float64 `json:"selling_price,omitempty"`
	QuantityStocked *int     `json:"quantity_stocked,omitempty"`
}

// CartLine is one pending line of an uncommitted sale. Name, unit price and
// volume are copied from the product at add time and become the historical
// record on commit.
type CartLine struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
	Milliliters int     `json:"milliliters"`
}

// Sale is an immutable committed sale header. There is no update or delete
// path; cancellation before commit simply discards the cart.
type Sale struct {
	ID          int64     `json:"id"`
	CashierID   int64     `json:"cashier_id"`
	CashierName string    `json:"cashier_name"`
	SaleDate    time.Time `json:"sale_date"`
	GrandTotal  float64   `json:"grand_total"`
}

// SaleItem references its product by id only; the product may be edited or
// deleted later without altering this line.
type SaleItem struct {
	ID          int64   `json:"id"`
	SaleID      int64   `json:"sale_id"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
	Milliliters int     `json:"milliliters"`
}

type SaleDetails struct {
	Sale  Sale       `json:"sale"`
	Items []SaleItem `json:"items"`
}

type CheckoutItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	Items []CheckoutItem `json:"items"`
}

type CheckoutResponse struct {
	SaleID     int64      `json:"sale_id"`
	GrandTotal float64    `json:"grand_total"`
	ItemCount  int        `json:"item_count"`
	Lines      []CartLine `json:"lines"`
	SaleDate   string     `json:"sale_date"`
}

// ReportRow is one committed sale in a period report. Profit is computed
// against the product's current cost price, not the cost at sale time.
type ReportRow struct {
	SaleID      int64     `json:"sale_id"`
	SaleDate    time.Time `json:"sale_date"`
	CashierName string    `json:"cashier_name"`
	ItemCount   int       `json:"item_count"`
	GrandTotal  float64   `json:"grand_total"`
	Profit      float64   `json:"profit"`
}

type CashierRollup struct {
	CashierName string  `json:"cashier_name"`
	Sales       int64   `json:"sales"`
	TotalSales  float64 `json:"total_sales"`
}

type ReportSummary struct {
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Transactions int             `json:"transactions"`
	TotalSales   float64         `json:"total_sales"`
	TotalProfit  float64         `json:"total_profit"`
	Rows         []ReportRow     `json:"rows"`
	ByCashier    []CashierRollup `json:"by_cashier"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	FullName    string `json:"full_name"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor identifies the authenticated user for one request. It is carried in
// the request context, never in process-global state.
type Actor struct {
	ID       int64
	Username string
	Role     string
	FullName string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type CashierUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	FullName  string    `json:"full_name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is the internal persistence model for auth credentials.
type UserAccount struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	FullName     string
	Active       bool
	CreatedAt    time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// RoundMoney rounds to two decimal places, the precision policy for all
// monetary values in the system.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// LineTotal computes the rounded total for one line. The grand total of a
// sale is the sum of these rounded values (sum-of-rounded-parts), so receipt
// line arithmetic always adds up.
func LineTotal(unitPrice float64, quantity int) float64 {
	return RoundMoney(unitPrice * float64(quantity))
}
