// Package sqlite implements store.Repository on a single local database
// file. Commit serialization relies on SQLite's own locking: transactions
// open with BEGIN IMMEDIATE so two sale commits can never interleave their
// stock reads and writes, and a bounded busy wait surfaces as store.ErrBusy.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"winepos/backend/internal/domain"
	"winepos/backend/internal/store"
)

const schemaVersion = 1

// busyTimeoutMS bounds how long a caller blocks on another writer before the
// commit fails with ErrBusy and may be retried whole.
const busyTimeoutMS = 5000

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_txlock=immediate&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on",
		path, busyTimeoutMS,
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('admin', 'cashier')),
			full_name TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			milliliters INTEGER NOT NULL DEFAULT 0,
			cost_price REAL NOT NULL DEFAULT 0,
			selling_price REAL NOT NULL DEFAULT 0,
			quantity_stocked INTEGER NOT NULL DEFAULT 0,
			quantity_sold INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			CHECK (quantity_sold >= 0 AND quantity_sold <= quantity_stocked)
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cashier_id INTEGER NOT NULL REFERENCES users(id),
			cashier_name TEXT NOT NULL,
			sale_date TIMESTAMP NOT NULL,
			grand_total REAL NOT NULL
		)`,
		// product_id is deliberately a soft reference: products may be edited
		// or deleted without touching historical line items, which carry their
		// own copies of name, price and volume.
		`CREATE TABLE IF NOT EXISTS sale_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sale_id INTEGER NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
			product_id TEXT NOT NULL,
			product_name TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price REAL NOT NULL,
			line_total REAL NOT NULL,
			milliliters INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_date ON sales(sale_date)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_cashier ON sales(cashier_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_items_product ON sale_items(product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at)`,
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// mapErr translates driver errors into the store taxonomy. Busy/locked means
// the bounded lock wait elapsed; constraint failures are integrity
// violations and must not be retried with the same input.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", store.ErrBusy, err)
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", store.ErrIntegrity, err)
		}
	}
	return err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, milliliters, cost_price, selling_price,
			quantity_stocked, quantity_sold, created_at, updated_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Milliliters, &p.CostPrice,
			&p.SellingPrice, &p.QuantityStocked, &p.QuantitySold, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrValidation
	}
	if product.SellingPrice < 0 || product.CostPrice < 0 || product.QuantityStocked < 0 {
		return nil, store.ErrValidation
	}

	now := time.Now().UTC()
	product.QuantitySold = 0
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, milliliters, cost_price, selling_price,
			quantity_stocked, quantity_sold, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, product.ID, product.Name, product.Description, product.Milliliters, product.CostPrice,
		product.SellingPrice, product.QuantityStocked, product.QuantitySold, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, milliliters, cost_price, selling_price,
			quantity_stocked, quantity_sold, created_at, updated_at
		FROM products
		WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Milliliters, &p.CostPrice,
		&p.SellingPrice, &p.QuantityStocked, &p.QuantitySold, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrValidation
	}
	if product.SellingPrice < 0 || product.CostPrice < 0 || product.QuantityStocked < 0 {
		return nil, store.ErrValidation
	}

	// quantity_sold is never set here; stock edits may not drop the stocked
	// count below what has already been sold.
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = ?, description = ?, milliliters = ?, cost_price = ?, selling_price = ?,
			quantity_stocked = ?, updated_at = ?
		WHERE id = ? AND quantity_sold <= ?
	`, product.Name, product.Description, product.Milliliters, product.CostPrice,
		product.SellingPrice, product.QuantityStocked, time.Now().UTC(), product.ID, product.QuantityStocked)
	if err != nil {
		return nil, mapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		existing, getErr := s.GetProduct(ctx, product.ID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.QuantitySold > product.QuantityStocked {
			return nil, fmt.Errorf("%w: stocked quantity below sold quantity", store.ErrValidation)
		}
		return nil, store.ErrNotFound
	}

	return s.GetProduct(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return mapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateSale is the atomic commit path. Inside one immediate transaction it
// re-checks every line against current availability, inserts the header and
// line items, and applies quantity_sold = quantity_sold + qty per product.
// Any failure rolls the whole unit of work back.
func (s *Store) CreateSale(ctx context.Context, cashier domain.Actor, lines []domain.CartLine) (int64, error) {
	if len(lines) == 0 {
		return 0, fmt.Errorf("%w: empty cart", store.ErrValidation)
	}
	if cashier.ID < 1 || cashier.FullName == "" {
		return 0, fmt.Errorf("%w: missing cashier", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	// Lines may repeat a product id; availability is checked once per
	// product against the summed demand so split lines cannot slip past.
	grandTotal := 0.0
	needed := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.ProductID == "" || line.Quantity < 1 || line.UnitPrice < 0 {
			return 0, fmt.Errorf("%w: malformed line for %q", store.ErrValidation, line.ProductID)
		}
		if line.LineTotal != domain.LineTotal(line.UnitPrice, line.Quantity) {
			return 0, fmt.Errorf("%w: line total mismatch for %s", store.ErrValidation, line.ProductID)
		}
		needed[line.ProductID] += line.Quantity
		grandTotal += line.LineTotal
	}
	grandTotal = domain.RoundMoney(grandTotal)

	checked := make(map[string]bool, len(needed))
	for _, line := range lines {
		if checked[line.ProductID] {
			continue
		}
		checked[line.ProductID] = true

		var stocked, sold int
		err := tx.QueryRowContext(ctx, `
			SELECT quantity_stocked, quantity_sold FROM products WHERE id = ?
		`, line.ProductID).Scan(&stocked, &sold)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
			}
			return 0, mapErr(err)
		}
		if available := stocked - sold; available < needed[line.ProductID] {
			return 0, &store.InsufficientStockError{ProductID: line.ProductID, Available: available}
		}
	}

	saleDate := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sales (cashier_id, cashier_name, sale_date, grand_total)
		VALUES (?,?,?,?)
	`, cashier.ID, cashier.FullName, saleDate, grandTotal)
	if err != nil {
		return 0, mapErr(err)
	}
	saleID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, line := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, quantity, unit_price, line_total, milliliters)
			VALUES (?,?,?,?,?,?,?)
		`, saleID, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.LineTotal, line.Milliliters)
		if err != nil {
			return 0, mapErr(err)
		}

		// Increment in place, never read-modify-write from the caller side.
		// The table CHECK constraint backstops the availability check above.
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET quantity_sold = quantity_sold + ?, updated_at = ?
			WHERE id = ?
		`, line.Quantity, saleDate, line.ProductID)
		if err != nil {
			return 0, mapErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, mapErr(err)
	}
	return saleID, nil
}

func (s *Store) GetSaleDetails(ctx context.Context, saleID int64) (*domain.SaleDetails, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cashier_id, cashier_name, sale_date, grand_total
		FROM sales
		WHERE id = ?
	`, saleID).Scan(&sale.ID, &sale.CashierID, &sale.CashierName, &sale.SaleDate, &sale.GrandTotal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapErr(err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price, line_total, milliliters
		FROM sale_items
		WHERE sale_id = ?
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	details := &domain.SaleDetails{Sale: sale, Items: make([]domain.SaleItem, 0, 8)}
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.LineTotal, &item.Milliliters); err != nil {
			return nil, err
		}
		details.Items = append(details.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return details, nil
}

// ListSales returns one row per sale in [from, to). Profit joins the
// product's current cost price; lines whose product was deleted contribute a
// zero cost basis so the sale total still matches its receipt.
func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.ReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.sale_date, s.cashier_name, s.grand_total,
			COUNT(si.id),
			COALESCE(SUM(si.line_total - COALESCE(p.cost_price, 0) * si.quantity), 0)
		FROM sales s
		LEFT JOIN sale_items si ON si.sale_id = s.id
		LEFT JOIN products p ON p.id = si.product_id
		WHERE s.sale_date >= ? AND s.sale_date < ?
		GROUP BY s.id
		ORDER BY s.sale_date DESC
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	result := make([]domain.ReportRow, 0, 64)
	for rows.Next() {
		var row domain.ReportRow
		if err := rows.Scan(&row.SaleID, &row.SaleDate, &row.CashierName, &row.GrandTotal,
			&row.ItemCount, &row.Profit); err != nil {
			return nil, err
		}
		row.Profit = domain.RoundMoney(row.Profit)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return result, nil
}

func (s *Store) CashierRollups(ctx context.Context, from time.Time, to time.Time) ([]domain.CashierRollup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cashier_name, COUNT(*), COALESCE(SUM(grand_total), 0)
		FROM sales
		WHERE sale_date >= ? AND sale_date < ?
		GROUP BY cashier_name
		ORDER BY SUM(grand_total) DESC
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	result := make([]domain.CashierRollup, 0, 8)
	for rows.Next() {
		var rollup domain.CashierRollup
		if err := rows.Scan(&rollup.CashierName, &rollup.Sales, &rollup.TotalSales); err != nil {
			return nil, err
		}
		rollup.TotalSales = domain.RoundMoney(rollup.TotalSales)
		result = append(result, rollup)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = store.NewAuditID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt)
	return mapErr(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?
	`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return logs, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, full_name, is_active, created_at
		FROM users
		WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role,
		&user.FullName, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapErr(err)
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if user.Username == "" || user.PasswordHash == "" || user.FullName == "" {
		return nil, store.ErrValidation
	}
	if user.Role != domain.RoleAdmin && user.Role != domain.RoleCashier {
		return nil, store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, full_name, is_active, created_at)
		VALUES (?,?,?,?,?,?)
	`, user.Username, user.PasswordHash, user.Role, user.FullName, user.Active, user.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	user.ID = id
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, full_name, is_active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role,
			&user.FullName, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, passwordHash string) error {
	if username == "" || passwordHash == "" {
		return store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ? WHERE username = ?
	`, passwordHash, username)
	if err != nil {
		return mapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
