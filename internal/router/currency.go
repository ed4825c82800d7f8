package router

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alqutdigital/finance-chat/internal/chat"
)

// CurrencyColumns are shown with a dollar prefix.
var CurrencyColumns = []string{"Total_Price", "Unit_Price"}

// ApplyCurrency returns copies of rows with currency columns rendered as "$<value>".
// Null values are left untouched.
func ApplyCurrency(rows []chat.Row) []chat.Row {
	out := make([]chat.Row, 0, len(rows))
	for _, row := range rows {
		formatted := chat.NewRow()
		for _, col := range row.Columns() {
			v, _ := row.Get(col)
			if v != nil && isCurrencyColumn(col) {
				v = "$" + displayValue(v)
			}
			formatted.Set(col, v)
		}
		out = append(out, formatted)
	}
	return out
}

func isCurrencyColumn(col string) bool {
	for _, c := range CurrencyColumns {
		if c == col {
			return true
		}
	}
	return false
}

func displayValue(v any) string {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}
