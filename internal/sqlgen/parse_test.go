package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatement_Accepts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "SELECT COUNT(*) AS count FROM purchase_order;", "SELECT COUNT(*) AS count FROM purchase_order"},
		{"fenced", "```sql\nSELECT * FROM invoices WHERE Status = 'Pending'\n```", "SELECT * FROM invoices WHERE Status = 'Pending'"},
		{"unbalanced fence", "```sql\nSELECT 1", "SELECT 1"},
		{"cte", "WITH t AS (SELECT Vendor_Name FROM purchase_order) SELECT * FROM t", "WITH t AS (SELECT Vendor_Name FROM purchase_order) SELECT * FROM t"},
		{"keyword in literal", "SELECT * FROM invoices WHERE Item_Description = 'DROP; delete -- me'", "SELECT * FROM invoices WHERE Item_Description = 'DROP; delete -- me'"},
		{"replace function", "SELECT REPLACE(Vendor_Name, 'Inc', '') FROM purchase_order", "SELECT REPLACE(Vendor_Name, 'Inc', '') FROM purchase_order"},
		{"escaped quote", "SELECT * FROM purchase_order WHERE Vendor_Name = 'O''Neil'", "SELECT * FROM purchase_order WHERE Vendor_Name = 'O''Neil'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := ParseStatement(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stmt.SQL)
		})
	}
}

func TestParseStatement_Sentinel(t *testing.T) {
	for _, raw := range []string{"INVALID_QUERY", "  invalid_query. ", "```\nINVALID_QUERY\n```", `"INVALID_QUERY"`} {
		_, err := ParseStatement(raw)
		assert.ErrorIs(t, err, ErrInvalidQuery, raw)
	}
}

func TestParseStatement_Rejects(t *testing.T) {
	tests := []string{
		"",
		"DELETE FROM invoices",
		"UPDATE invoices SET Status = 'Paid'",
		"SELECT 1; DROP TABLE invoices",
		"SELECT * FROM invoices -- trailing comment",
		"SELECT * FROM invoices /* c */",
		"SELECT * INTO OUTFILE '/tmp/x' FROM invoices",
		"WITH x AS (DELETE FROM invoices RETURNING *) SELECT * FROM x",
		"WITH x AS (VALUES (1))",
		"SHOW TABLES",
		"SELECT * FROM invoices WHERE Vendor_Name = 'open",
		"Here is your query: SELECT 1",
		"REPLACE INTO invoices VALUES (1)",
	}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseStatement(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRejectedStatement)
		})
	}
}
