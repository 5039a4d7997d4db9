package procurement

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

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) (int64, error)
	// GetPOForUpdate loads the order with its lines and locks the header row.
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	// FindOpenAutomaticPO returns the DRAFT or SENT automatic order for the
	// product with the most spare quantity, locked, or ErrNotFound when no
	// open order has any quantity left to promise.
	FindOpenAutomaticPO(ctx context.Context, productCode string) (PurchaseOrder, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus, closeReason string) error
	UpdateLine(ctx context.Context, line POLine) error
	AppendStateLog(ctx context.Context, entry shared.StateLogEntry) error
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds the procurement queries to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const poColumns = `id, number, supplier_id, order_type, purpose, status, priority, linked_sales_order_id, COALESCE(close_reason, ''), note, created_at, updated_at`

// GetPO returns purchase order and lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadPO(ctx, r.pool, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1`, id)
}

// ListPOs returns purchase orders newest first.
func (r *Repository) ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = $1")
	}
	if filter.ProductCode != "" {
		args = append(args, filter.ProductCode)
		where = append(where, "id IN (SELECT po_id FROM purchase_order_lines WHERE product_code = $"+strconv.Itoa(len(args))+")")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query := `SELECT ` + poColumns + ` FROM purchase_orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT $" + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	pos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PurchaseOrder, error) {
		return scanPO(row)
	})
	if err != nil {
		return nil, err
	}
	for i := range pos {
		if pos[i].Lines, err = loadLines(ctx, r.pool, pos[i].ID); err != nil {
			return nil, err
		}
	}
	return pos, nil
}

// StateLog lists the transitions of a purchase order oldest first.
func (r *Repository) StateLog(ctx context.Context, id int64) ([]shared.StateLogEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_kind, order_id, from_state, to_state, changed_at, automated, note
FROM order_state_logs WHERE order_kind = $1 AND order_id = $2 ORDER BY id`, string(shared.OrderKindPurchase), id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (shared.StateLogEntry, error) {
		var e shared.StateLogEntry
		var kind string
		err := row.Scan(&e.ID, &kind, &e.OrderID, &e.FromState, &e.ToState, &e.ChangedAt, &e.Automated, &e.Note)
		e.OrderKind = shared.OrderKind(kind)
		return e, err
	})
}

func (tx *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, order_type, purpose, status, priority, linked_sales_order_id, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9) RETURNING id`,
		po.Number, po.SupplierID, string(po.OrderType), string(po.Purpose), string(po.Status), string(po.Priority), po.LinkedSalesOrderID, po.Note, po.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertPOLine(ctx context.Context, line POLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, product_code, ordered_qty, received_qty, reserved_qty, synced_received_qty)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, line.POID, line.ProductCode, line.OrderedQty, line.ReceivedQty, line.ReservedQty, line.SyncedReceivedQty).Scan(&id)
	return id, err
}

func (tx *txRepo) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadPO(ctx, tx.tx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id)
}

func (tx *txRepo) FindOpenAutomaticPO(ctx context.Context, productCode string) (PurchaseOrder, error) {
	return loadPO(ctx, tx.tx, `SELECT `+poColumns+` FROM purchase_orders
WHERE id = (
  SELECT po.id FROM purchase_orders po
  JOIN purchase_order_lines l ON l.po_id = po.id
  WHERE l.product_code = $1 AND po.order_type = 'AUTOMATIC' AND po.status IN ('DRAFT', 'SENT')
    AND l.ordered_qty - l.reserved_qty > 0
  ORDER BY (l.ordered_qty - l.reserved_qty) DESC, po.id ASC
  LIMIT 1
)
FOR UPDATE`, productCode)
}

func (tx *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus, closeReason string) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, close_reason=NULLIF($3, ''), updated_at=NOW() WHERE id=$1`, id, string(status), closeReason)
	return err
}

func (tx *txRepo) UpdateLine(ctx context.Context, line POLine) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_order_lines SET ordered_qty=$2, received_qty=$3, reserved_qty=$4, synced_received_qty=$5 WHERE id=$1`,
		line.ID, line.OrderedQty, line.ReceivedQty, line.ReservedQty, line.SyncedReceivedQty)
	return err
}

func (tx *txRepo) AppendStateLog(ctx context.Context, entry shared.StateLogEntry) error {
	return shared.InsertStateLog(ctx, tx.tx, entry)
}

func loadPO(ctx context.Context, q db.Querier, query string, arg any) (PurchaseOrder, error) {
	po, err := scanPO(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, q, po.ID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var orderType, purpose, status, priority string
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &orderType, &purpose, &status, &priority, &po.LinkedSalesOrderID, &po.CloseReason, &po.Note, &po.CreatedAt, &po.UpdatedAt)
	po.OrderType = OrderType(orderType)
	po.Purpose = Purpose(purpose)
	po.Status = POStatus(status)
	po.Priority = Priority(priority)
	return po, err
}

func loadLines(ctx context.Context, q db.Querier, poID int64) ([]POLine, error) {
	rows, err := q.Query(ctx, `SELECT id, po_id, product_code, ordered_qty, received_qty, reserved_qty, synced_received_qty
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (POLine, error) {
		var l POLine
		err := row.Scan(&l.ID, &l.POID, &l.ProductCode, &l.OrderedQty, &l.ReceivedQty, &l.ReservedQty, &l.SyncedReceivedQty)
		return l, err
	})
}
