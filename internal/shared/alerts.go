package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AlertKind groups operator alerts.
type AlertKind string

const (
	AlertMissingLeadTime       AlertKind = "MISSING_LEAD_TIME"
	AlertLeadTimeCoerced       AlertKind = "LEAD_TIME_COERCED"
	AlertDemandAnomaly         AlertKind = "DEMAND_ANOMALY"
	AlertNoSupplier            AlertKind = "NO_SUPPLIER"
	AlertDiscontinuedBackorder AlertKind = "DISCONTINUED_BACKORDER"
)

// OperatorAlert is a data-quality problem waiting for a human.
type OperatorAlert struct {
	ID          int64     `json:"id"`
	Kind        AlertKind `json:"kind"`
	ProductCode string    `json:"product_code,omitempty"`
	OrderID     int64     `json:"order_id,omitempty"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// AlertQueue writes records into operator_alerts.
type AlertQueue struct {
	pool *pgxpool.Pool
}

// NewAlertQueue returns a new AlertQueue.
func NewAlertQueue(pool *pgxpool.Pool) *AlertQueue {
	return &AlertQueue{pool: pool}
}

// Record persists the alert.
func (q *AlertQueue) Record(ctx context.Context, alert OperatorAlert) error {
	if q == nil {
		return errors.New("alert queue not initialised")
	}
	if alert.Kind == "" || alert.Message == "" {
		return errors.New("operator alert requires kind and message")
	}
	_, err := q.pool.Exec(ctx, `INSERT INTO operator_alerts (kind, product_code, order_id, message, created_at) VALUES ($1, NULLIF($2, ''), NULLIF($3, 0), $4, COALESCE($5, NOW()))`,
		string(alert.Kind), alert.ProductCode, alert.OrderID, alert.Message, nullTime(alert.CreatedAt))
	return err
}

// Open lists unresolved alerts, newest first.
func (q *AlertQueue) Open(ctx context.Context, limit int) ([]OperatorAlert, error) {
	if q == nil {
		return nil, errors.New("alert queue not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.pool.Query(ctx, `SELECT id, kind, COALESCE(product_code, ''), COALESCE(order_id, 0), message, created_at
FROM operator_alerts WHERE resolved_at IS NULL ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	alerts := []OperatorAlert{}
	for rows.Next() {
		var a OperatorAlert
		var kind string
		if err := rows.Scan(&a.ID, &kind, &a.ProductCode, &a.OrderID, &a.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = AlertKind(kind)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Resolve marks an alert as handled.
func (q *AlertQueue) Resolve(ctx context.Context, id int64) error {
	if q == nil {
		return errors.New("alert queue not initialised")
	}
	tag, err := q.pool.Exec(ctx, `UPDATE operator_alerts SET resolved_at = NOW() WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
