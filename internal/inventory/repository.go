package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/replenish/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetProduct(ctx context.Context, code string) (Product, error)
	GetProductForUpdate(ctx context.Context, code string) (Product, error)
	// ApplyMovement changes stock by m.Delta. A decrement larger than the
	// current stock fails with *ShortageError and leaves the row unchanged.
	ApplyMovement(ctx context.Context, m Movement) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the inventory queries to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const productColumns = `p.code, p.name, p.stock, p.reorder_point, p.is_discontinued, p.supplier_id, p.created_at,
s.id, s.name, s.lead_time_normal_days, s.lead_time_max_days, s.is_active`

const productFrom = ` FROM products p LEFT JOIN suppliers s ON s.id = p.supplier_id`

// GetProduct loads one product with its supplier.
func (r *Repository) GetProduct(ctx context.Context, code string) (Product, error) {
	return getProduct(ctx, r.pool, code)
}

// ListProducts returns products matching filter ordered by code.
func (r *Repository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	var where []string
	if filter.OnlyActive {
		where = append(where, "p.is_discontinued = FALSE")
	}
	if filter.AtOrBelowReorder {
		where = append(where, "p.reorder_point IS NOT NULL AND p.stock <= p.reorder_point")
	}
	if filter.DiscontinuedBackordered {
		where = append(where, `p.is_discontinued = TRUE AND EXISTS (SELECT 1 FROM sales_order_items i
JOIN sales_orders o ON o.id = i.order_id
WHERE i.product_code = p.code AND i.is_backorder AND o.fulfillment_status <> 'CANCELLED')`)
	}
	query := "SELECT " + productColumns + productFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.code"
	args := []any{}
	if filter.Limit > 0 {
		query += " LIMIT $1"
		args = append(args, filter.Limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// SetReorderPoint writes the computed threshold for one product.
func (r *Repository) SetReorderPoint(ctx context.Context, code string, reorderPoint int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET reorder_point = $2, reorder_point_updated_at = NOW() WHERE code = $1`, code, reorderPoint)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// StockCard lists the latest stock movements of a product.
func (r *Repository) StockCard(ctx context.Context, code string, limit int) ([]MovementEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_code, delta, balance, reason, ref_module, COALESCE(ref_id, 0), note, posted_at
FROM stock_movements WHERE product_code = $1 ORDER BY posted_at DESC, id DESC LIMIT $2`, code, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []MovementEntry{}
	for rows.Next() {
		var e MovementEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.ProductCode, &e.Delta, &e.Balance, &reason, &e.RefModule, &e.RefID, &e.Note, &e.PostedAt); err != nil {
			return nil, err
		}
		e.Reason = MovementReason(reason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) GetProduct(ctx context.Context, code string) (Product, error) {
	return getProduct(ctx, r.tx, code)
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, code string) (Product, error) {
	var stock int64
	if err := r.tx.QueryRow(ctx, `SELECT stock FROM products WHERE code = $1 FOR UPDATE`, code).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return getProduct(ctx, r.tx, code)
}

func (r *txRepository) ApplyMovement(ctx context.Context, m Movement) (int64, error) {
	if m.Delta == 0 {
		return 0, ErrInvalidQuantity
	}
	var balance int64
	err := r.tx.QueryRow(ctx, `UPDATE products SET stock = stock + $2 WHERE code = $1 AND stock + $2 >= 0 RETURNING stock`, m.ProductCode, m.Delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var current int64
		if err := r.tx.QueryRow(ctx, `SELECT stock FROM products WHERE code = $1`, m.ProductCode).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, ErrProductNotFound
			}
			return 0, err
		}
		return current, &ShortageError{ProductCode: m.ProductCode, Available: current, Requested: -m.Delta}
	}
	if err != nil {
		return 0, err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO stock_movements (product_code, delta, balance, reason, ref_module, ref_id, note, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`, m.ProductCode, m.Delta, balance, string(m.Reason), m.RefModule, nullInt(m.RefID), m.Note)
	if err != nil {
		return 0, fmt.Errorf("inventory: record movement: %w", err)
	}
	return balance, nil
}

func getProduct(ctx context.Context, q db.Querier, code string) (Product, error) {
	query := "SELECT " + productColumns + productFrom + " WHERE p.code = $1"
	p, err := scanProduct(q.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var (
		supplierID   *int64
		supplierName *string
		ltNormal     *int
		ltMax        *int
		active       *bool
	)
	if err := row.Scan(&p.Code, &p.Name, &p.Stock, &p.ReorderPoint, &p.IsDiscontinued, &p.SupplierID, &p.CreatedAt,
		&supplierID, &supplierName, &ltNormal, &ltMax, &active); err != nil {
		return Product{}, err
	}
	if supplierID != nil {
		p.Supplier = &Supplier{
			ID:                 *supplierID,
			LeadTimeNormalDays: ltNormal,
			LeadTimeMaxDays:    ltMax,
			IsActive:           active != nil && *active,
		}
		if supplierName != nil {
			p.Supplier.Name = *supplierName
		}
	}
	return p, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
