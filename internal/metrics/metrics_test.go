package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTurn(t *testing.T) {
	before := testutil.ToFloat64(chatTurns.WithLabelValues("sql", "success"))
	RecordTurn("sql", "success", 150*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(chatTurns.WithLabelValues("sql", "success")))
}

func TestRecordClassification_CountsRewrites(t *testing.T) {
	before := testutil.ToFloat64(rewrites)
	RecordClassification("rag", false)
	RecordClassification("rag", true)
	assert.Equal(t, before+1, testutil.ToFloat64(rewrites))
}

func TestRecordHistoryReset(t *testing.T) {
	before := testutil.ToFloat64(historyResets)
	RecordHistoryReset()
	assert.Equal(t, before+1, testutil.ToFloat64(historyResets))
}
