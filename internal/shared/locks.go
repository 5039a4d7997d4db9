package shared

import "fmt"

// RecalcLockKey builds the redis key guarding one product's reorder recalculation.
func RecalcLockKey(productCode string) string {
	return fmt.Sprintf("replenish:product:%s:lock", productCode)
}
