package demand

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads sales history from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DailySales sums completed sales of a product per UTC day in [from, to).
// Cancelled and refunded orders do not count as demand.
func (r *Repository) DailySales(ctx context.Context, productCode string, from, to time.Time) ([]DailySale, error) {
	rows, err := r.pool.Query(ctx, `SELECT date_trunc('day', so.ordered_at AT TIME ZONE 'UTC') AS day, SUM(i.quantity)::bigint
FROM sales_order_items i
JOIN sales_orders so ON so.id = i.order_id
WHERE i.product_code = $1
  AND so.ordered_at >= $2 AND so.ordered_at < $3
  AND so.fulfillment_status <> 'CANCELLED'
  AND so.payment_status NOT IN ('CANCELLED', 'REFUNDED')
  AND (so.payment_status = 'PAID' OR so.fulfillment_status IN ('SHIPPED', 'DELIVERED'))
GROUP BY 1
ORDER BY 1`, productCode, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sales []DailySale
	for rows.Next() {
		var s DailySale
		if err := rows.Scan(&s.Day, &s.Quantity); err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}
