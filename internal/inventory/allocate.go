package inventory

import (
	"context"
)

// Allocation is the outcome of Allocate.
type Allocation struct {
	Taken    int64
	Seen     int64
	Balance  int64
	Shortage int64
}

// Allocate takes up to qty units of m.ProductCode. The full quantity is tried
// with a conditional decrement first; when that finds too little stock the row
// is locked and whatever is left is taken instead. Seen is the stock observed
// before the allocation.
func Allocate(ctx context.Context, tx TxRepository, m Movement, qty int64) (Allocation, error) {
	if qty <= 0 {
		return Allocation{}, ErrInvalidQuantity
	}
	m.Delta = -qty
	balance, err := tx.ApplyMovement(ctx, m)
	if err == nil {
		return Allocation{Taken: qty, Seen: balance + qty, Balance: balance}, nil
	}
	if _, ok := AsShortage(err); !ok {
		return Allocation{}, err
	}
	product, err := tx.GetProductForUpdate(ctx, m.ProductCode)
	if err != nil {
		return Allocation{}, err
	}
	out := Allocation{Seen: product.Stock, Balance: product.Stock}
	take := min(product.Stock, qty)
	if take > 0 {
		m.Delta = -take
		if out.Balance, err = tx.ApplyMovement(ctx, m); err != nil {
			return Allocation{}, err
		}
		out.Taken = take
	}
	out.Shortage = qty - out.Taken
	return out, nil
}
