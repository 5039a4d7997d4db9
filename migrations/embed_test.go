package migrations

import (
	"context"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/replenish/internal/replenishment"
)

type recordingExecer struct {
	statements []string
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.statements = append(r.statements, sql)
	return pgconn.CommandTag{}, nil
}

func TestApplyRunsEveryFile(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	exec := &recordingExecer{}
	require.NoError(t, Apply(context.Background(), exec))
	require.Len(t, exec.statements, len(names))
}

func TestSchemaDeclaresCoreTables(t *testing.T) {
	body, err := Files.ReadFile("0001_replenishment.sql")
	require.NoError(t, err)
	schema := string(body)
	for _, table := range []string{
		"suppliers", "products", "stock_movements", "sales_orders", "sales_order_items",
		"purchase_orders", "purchase_order_lines", "order_state_logs", "inventory_forecasts",
		"operator_alerts", "idempotency_keys",
	} {
		require.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
	require.Contains(t, schema, "UNIQUE (product_code, forecast_date)")
}

// Numeric forecast columns must hold what the Go model carries, otherwise pgx
// truncates fractions when encoding a float into BIGINT.
func TestForecastColumnsMatchModel(t *testing.T) {
	body, err := Files.ReadFile("0001_replenishment.sql")
	require.NoError(t, err)
	table := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS inventory_forecasts \((.*?)\n\);`).FindStringSubmatch(string(body))
	require.Len(t, table, 2)

	columns := map[string]string{}
	for _, m := range regexp.MustCompile(`(?m)^\s+([a-z_]+)\s+(BIGINT|INTEGER|DOUBLE PRECISION|TEXT|DATE|BOOLEAN|TIMESTAMPTZ|BIGSERIAL)`).FindAllStringSubmatch(table[1], -1) {
		columns[m[1]] = m[2]
	}

	sqlType := map[reflect.Kind]string{
		reflect.Int64:   "BIGINT",
		reflect.Int:     "INTEGER",
		reflect.Float64: "DOUBLE PRECISION",
	}
	model := reflect.TypeOf(replenishment.Forecast{})
	checked := 0
	for i := 0; i < model.NumField(); i++ {
		field := model.Field(i)
		kind := field.Type.Kind()
		if kind == reflect.Pointer {
			kind = field.Type.Elem().Kind()
		}
		want, numeric := sqlType[kind]
		if !numeric {
			continue
		}
		column := strings.Split(field.Tag.Get("json"), ",")[0]
		require.Contains(t, columns, column)
		require.Equal(t, want, columns[column], column)
		checked++
	}
	require.GreaterOrEqual(t, checked, 8)
}
