package router

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alqutdigital/finance-chat/internal/chat"
)

func TestApplyCurrency(t *testing.T) {
	row := chat.NewRow()
	row.Set("PO_Number", "PO-1")
	row.Set("Total_Price", json.Number("2833.32"))
	row.Set("Unit_Price", 202.38)
	row.Set("Quantity", int64(14))

	out := ApplyCurrency([]chat.Row{row})
	require.Len(t, out, 1)

	total, _ := out[0].Get("Total_Price")
	unit, _ := out[0].Get("Unit_Price")
	qty, _ := out[0].Get("Quantity")
	assert.Equal(t, "$2833.32", total)
	assert.Equal(t, "$202.38", unit)
	assert.Equal(t, int64(14), qty)
	assert.Equal(t, []string{"PO_Number", "Total_Price", "Unit_Price", "Quantity"}, out[0].Columns())

	// source rows are not mutated
	orig, _ := row.Get("Total_Price")
	assert.Equal(t, json.Number("2833.32"), orig)
}

func TestApplyCurrency_StrippingRecoversValue(t *testing.T) {
	values := []any{json.Number("10.50"), "99.99", int64(7), 1534.7}
	for _, v := range values {
		row := chat.NewRow()
		row.Set("Total_Price", v)
		got, _ := ApplyCurrency([]chat.Row{row})[0].Get("Total_Price")
		s, ok := got.(string)
		require.True(t, ok)
		assert.Equal(t, displayValue(v), strings.TrimPrefix(s, "$"))
	}
}

func TestApplyCurrency_LeavesNull(t *testing.T) {
	row := chat.NewRow()
	row.Set("Total_Price", nil)
	got, _ := ApplyCurrency([]chat.Row{row})[0].Get("Total_Price")
	assert.Nil(t, got)
}
