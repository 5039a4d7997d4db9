package crossdock

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/platform/db"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/sales"
)

// Tx groups the repositories taking part in one unit of work.
type Tx interface {
	Products() inventory.TxRepository
	PurchaseOrders() procurement.TxRepository
	SalesOrders() sales.TxRepository
}

// UnitOfWork runs fn atomically.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(context.Context, Tx) error) error
}

// PgUnitOfWork runs units of work in read-committed PostgreSQL transactions.
// Stock decrements are conditional updates, so a concurrent loser re-reads the
// committed row and turns into a backorder instead of failing serialization.
type PgUnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork builds PgUnitOfWork.
func NewUnitOfWork(pool *pgxpool.Pool) *PgUnitOfWork {
	return &PgUnitOfWork{pool: pool}
}

func (u *PgUnitOfWork) Do(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTxOptions(ctx, u.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{
			products:  inventory.NewTxRepository(tx),
			purchases: procurement.NewTxRepository(tx),
			sales:     sales.NewTxRepository(tx),
		})
	})
}

type pgTx struct {
	products  inventory.TxRepository
	purchases procurement.TxRepository
	sales     sales.TxRepository
}

func (t pgTx) Products() inventory.TxRepository         { return t.products }
func (t pgTx) PurchaseOrders() procurement.TxRepository { return t.purchases }
func (t pgTx) SalesOrders() sales.TxRepository          { return t.sales }
