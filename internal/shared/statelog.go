package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// OrderKind identifies which order table a state log entry belongs to.
type OrderKind string

const (
	OrderKindSales    OrderKind = "SALES_ORDER"
	OrderKindPurchase OrderKind = "PURCHASE_ORDER"
)

// StateLogEntry is an immutable record of one lifecycle transition.
type StateLogEntry struct {
	ID        int64     `json:"id"`
	OrderKind OrderKind `json:"order_kind"`
	OrderID   int64     `json:"order_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	ChangedAt time.Time `json:"changed_at"`
	Automated bool      `json:"automated"`
	Note      string    `json:"note,omitempty"`
}

// Execer is satisfied by pgx.Tx, *pgxpool.Pool and *pgx.Conn.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// InsertStateLog appends entry to order_state_logs.
func InsertStateLog(ctx context.Context, db Execer, entry StateLogEntry) error {
	if entry.OrderKind == "" || entry.OrderID == 0 || entry.ToState == "" {
		return errors.New("state log requires order kind, order id and target state")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	_, err := db.Exec(ctx, `INSERT INTO order_state_logs (order_kind, order_id, from_state, to_state, changed_at, automated, note)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, string(entry.OrderKind), entry.OrderID, entry.FromState, entry.ToState, entry.ChangedAt, entry.Automated, entry.Note)
	return err
}
