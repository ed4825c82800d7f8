package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_DefaultsOnWire(t *testing.T) {
	resp := Response{
		Status:      StatusSuccess,
		Source:      SourceInvalid,
		Message:     "out of context",
		BotResponse: Text("hello"),
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	meta := decoded["meta"].(map[string]any)
	assert.Equal(t, "N/A", meta["sql_query"])
	assert.Equal(t, []any{}, meta["context_pages"])
	assert.Nil(t, meta["raw_error"])
	assert.Equal(t, "Classification", decoded["source"])
	assert.Equal(t, "hello", decoded["bot_response"])
}

func TestBotResponse_Variants(t *testing.T) {
	row := NewRow()
	row.Set("count", 42)

	tests := []struct {
		name     string
		payload  BotResponse
		expected string
	}{
		{"text", Text("an answer"), `"an answer"`},
		{"table", Table([]Row{row}), `[{"count":42}]`},
		{"empty table", Table(nil), `[]`},
		{"empty", Empty(), `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.payload)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))
		})
	}
}

func TestBotResponse_UnmarshalRestoresKind(t *testing.T) {
	var b BotResponse
	require.NoError(t, json.Unmarshal([]byte(`[{"Total_Price":"$10.50","id":1}]`), &b))

	rows, ok := b.AsTable()
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"Total_Price", "id"}, rows[0].Columns())

	require.NoError(t, json.Unmarshal([]byte(`"plain"`), &b))
	text, ok := b.AsText()
	assert.True(t, ok)
	assert.Equal(t, "plain", text)

	require.NoError(t, json.Unmarshal([]byte(`null`), &b))
	assert.Equal(t, PayloadEmpty, b.Kind())

	assert.Error(t, json.Unmarshal([]byte(`42`), &b))
}

func TestRow_PreservesColumnOrder(t *testing.T) {
	row := NewRow()
	row.Set("zeta", "z")
	row.Set("alpha", 1)
	row.Set("mid", nil)
	row.Set("zeta", "updated")

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"updated","alpha":1,"mid":null}`, string(data))
	assert.Equal(t, 3, row.Len())
}

func TestPageRef_Shapes(t *testing.T) {
	data, err := json.Marshal([]PageRef{NewPageRange(12, 14), NewPage(3)})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"page_start":12,"page_end":14},{"page":3}]`, string(data))
}

func TestHistory_TranscriptAndCount(t *testing.T) {
	h := History{
		UserTurn("show pending invoices"),
		BotTurn("Invoice_101, Invoice_102"),
		UserTurn("and the overdue ones?"),
	}

	assert.Equal(t, 2, h.UserTurns())
	assert.Equal(t,
		"User: show pending invoices\nBot: Invoice_101, Invoice_102\nUser: and the overdue ones?",
		h.Transcript(),
	)
	assert.Equal(t, "", History{}.Transcript())
}

func TestTurn_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(History{UserTurn("hi"), BotTurn("hello")})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"user":"hi"},{"bot":"hello"}]`, string(data))

	var h History
	require.NoError(t, json.Unmarshal(data, &h))
	assert.Equal(t, History{UserTurn("hi"), BotTurn("hello")}, h)

	var bad Turn
	assert.Error(t, json.Unmarshal([]byte(`{"other":"x"}`), &bad))
}
