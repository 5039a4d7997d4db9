package sales

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/replenish/internal/platform/db"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// Repository provides PostgreSQL backed persistence for sales operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateOrder(ctx context.Context, order SalesOrder) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	GetOrderForUpdate(ctx context.Context, id int64) (SalesOrder, error)
	FindByRequestKey(ctx context.Context, key string) (SalesOrder, error)
	UpdateItem(ctx context.Context, item Item) error
	UpdateFulfillmentStatus(ctx context.Context, id int64, status FulfillmentStatus) error
	// ListBackordersByPO returns open backordered items linked to poID,
	// oldest order first, locked for update.
	ListBackordersByPO(ctx context.Context, poID int64) ([]Item, error)
	// ListUnlinkedBackorders returns open backordered items of a product that
	// wait without a purchase order, held ones included, oldest order first.
	ListUnlinkedBackorders(ctx context.Context, productCode string) ([]Item, error)
	AppendStateLog(ctx context.Context, entry shared.StateLogEntry) error
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds the sales queries to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// ============================================================================
// READS
// ============================================================================

const orderColumns = `id, number, COALESCE(request_key, ''), customer_name, customer_email, customer_phone, shipping_address,
ordered_at, payment_status, fulfillment_status, created_at, updated_at`

const itemColumns = `i.id, i.order_id, i.product_code, i.quantity, i.unit_price, i.allocated_qty, i.backorder_qty,
i.is_backorder, i.linked_purchase_order_id, i.hold_reason, i.allocated_at`

func (r *Repository) GetOrder(ctx context.Context, id int64) (SalesOrder, error) {
	return loadOrder(ctx, r.pool, `SELECT `+orderColumns+` FROM sales_orders WHERE id = $1`, id)
}

func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]SalesOrder, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "fulfillment_status = $"+strconv.Itoa(len(args)))
	}
	if filter.ProductCode != "" {
		args = append(args, filter.ProductCode)
		where = append(where, "id IN (SELECT order_id FROM sales_order_items WHERE product_code = $"+strconv.Itoa(len(args))+")")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query := `SELECT ` + orderColumns + ` FROM sales_orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SalesOrder, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].Items, err = loadItems(ctx, r.pool, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *Repository) StateLog(ctx context.Context, id int64) ([]shared.StateLogEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, from_state, to_state, changed_at, automated, note
FROM order_state_logs WHERE order_kind = $1 AND order_id = $2 ORDER BY id`, string(shared.OrderKindSales), id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (shared.StateLogEntry, error) {
		e := shared.StateLogEntry{OrderKind: shared.OrderKindSales, OrderID: id}
		err := row.Scan(&e.ID, &e.FromState, &e.ToState, &e.ChangedAt, &e.Automated, &e.Note)
		return e, err
	})
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (t *txRepo) CreateOrder(ctx context.Context, order SalesOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales_orders (number, request_key, customer_name, customer_email, customer_phone, shipping_address,
ordered_at, payment_status, fulfillment_status, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, NOW(), NOW()) RETURNING id`,
		order.Number, order.RequestKey, order.Customer.Name, order.Customer.Email, order.Customer.Phone, order.Customer.ShippingAddress,
		order.OrderedAt, string(order.PaymentStatus), string(order.FulfillmentStatus)).Scan(&id)
	return id, err
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales_order_items (order_id, product_code, quantity, unit_price, allocated_qty, backorder_qty,
is_backorder, linked_purchase_order_id, hold_reason, allocated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		item.OrderID, item.ProductCode, item.Quantity, item.UnitPrice, item.AllocatedQty, item.BackorderQty,
		item.IsBackorder, item.LinkedPurchaseOrderID, string(item.HoldReason), item.AllocatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (SalesOrder, error) {
	return loadOrder(ctx, t.tx, `SELECT `+orderColumns+` FROM sales_orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *txRepo) FindByRequestKey(ctx context.Context, key string) (SalesOrder, error) {
	return loadOrder(ctx, t.tx, `SELECT `+orderColumns+` FROM sales_orders WHERE request_key = $1`, key)
}

func (t *txRepo) UpdateItem(ctx context.Context, item Item) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales_order_items SET allocated_qty = $2, backorder_qty = $3, is_backorder = $4,
linked_purchase_order_id = $5, hold_reason = $6, allocated_at = $7 WHERE id = $1`,
		item.ID, item.AllocatedQty, item.BackorderQty, item.IsBackorder, item.LinkedPurchaseOrderID, string(item.HoldReason), item.AllocatedAt)
	return err
}

func (t *txRepo) UpdateFulfillmentStatus(ctx context.Context, id int64, status FulfillmentStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sales_orders SET fulfillment_status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) ListBackordersByPO(ctx context.Context, poID int64) ([]Item, error) {
	return queryItems(ctx, t.tx, `SELECT `+itemColumns+` FROM sales_order_items i
JOIN sales_orders o ON o.id = i.order_id
WHERE i.linked_purchase_order_id = $1 AND i.is_backorder AND o.fulfillment_status <> 'CANCELLED'
ORDER BY o.ordered_at, o.id, i.id
FOR UPDATE OF i`, poID)
}

func (t *txRepo) ListUnlinkedBackorders(ctx context.Context, productCode string) ([]Item, error) {
	return queryItems(ctx, t.tx, `SELECT `+itemColumns+` FROM sales_order_items i
JOIN sales_orders o ON o.id = i.order_id
WHERE i.product_code = $1 AND i.is_backorder AND i.linked_purchase_order_id IS NULL
  AND o.fulfillment_status <> 'CANCELLED'
ORDER BY o.ordered_at, o.id, i.id
FOR UPDATE OF i`, productCode)
}

func (t *txRepo) AppendStateLog(ctx context.Context, entry shared.StateLogEntry) error {
	return shared.InsertStateLog(ctx, t.tx, entry)
}

// ============================================================================
// HELPERS
// ============================================================================

func loadOrder(ctx context.Context, q db.Querier, query string, arg any) (SalesOrder, error) {
	order, err := scanOrder(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalesOrder{}, ErrNotFound
		}
		return SalesOrder{}, err
	}
	order.Items, err = loadItems(ctx, q, order.ID)
	if err != nil {
		return SalesOrder{}, err
	}
	return order, nil
}

func scanOrder(row pgx.Row) (SalesOrder, error) {
	var o SalesOrder
	var payment, fulfillment string
	err := row.Scan(&o.ID, &o.Number, &o.RequestKey, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.ShippingAddress,
		&o.OrderedAt, &payment, &fulfillment, &o.CreatedAt, &o.UpdatedAt)
	o.PaymentStatus = PaymentStatus(payment)
	o.FulfillmentStatus = FulfillmentStatus(fulfillment)
	return o, err
}

func loadItems(ctx context.Context, q db.Querier, orderID int64) ([]Item, error) {
	return queryItems(ctx, q, `SELECT `+itemColumns+` FROM sales_order_items i WHERE i.order_id = $1 ORDER BY i.id`, orderID)
}

func queryItems(ctx context.Context, q db.Querier, query string, arg any) ([]Item, error) {
	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		var hold string
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductCode, &it.Quantity, &it.UnitPrice, &it.AllocatedQty, &it.BackorderQty,
			&it.IsBackorder, &it.LinkedPurchaseOrderID, &hold, &it.AllocatedAt)
		it.HoldReason = HoldReason(hold)
		return it, err
	})
}
