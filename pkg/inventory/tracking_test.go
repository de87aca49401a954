package inventory

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewTracerFromConfig(t *testing.T) {
	tr, err := NewTracerFromConfig("run-1", "", zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, tr)

	_, err = NewTracerFromConfig("run-1", "00001", zap.NewNop())
	assert.Error(t, err)

	tr, err = NewTracerFromConfig("run-1", "1-0-0-0-", zap.NewNop())
	require.NoError(t, err)
	assert.True(t, tr.Matches(keyOf("00001")))
}

func TestTracer_NilIsNoop(t *testing.T) {
	var tr *Tracer
	m := &InventoryMaster{InventoryKey: keyOf("00001")}

	// nilトレーサーは何もしない
	tr.Track("繰越", m, "")
	tr.LogSummary()
	assert.False(t, tr.Matches(m.InventoryKey))
	assert.Nil(t, tr.Entries())
	assert.NoError(t, tr.Flush(&bytes.Buffer{}))
	path, err := tr.SaveFile(t.TempDir())
	assert.NoError(t, err)
	assert.Empty(t, path)
}

func TestTracer_TrackAndSave(t *testing.T) {
	tr := NewTracer("run-42", keyOf("00001"), zap.NewNop())

	negative := &InventoryMaster{InventoryKey: keyOf("00001"), CurrentStock: dec("-5"), StandardPrice: dec("10")}
	noPrice := &InventoryMaster{InventoryKey: keyOf("00001"), CurrentStock: dec("5")}
	other := &InventoryMaster{InventoryKey: keyOf("00002")}

	// テスト実行
	tr.Track("売上", negative, "S001")
	tr.Track("繰越(新規)", noPrice, "")
	tr.Track("繰越(新規)", other, "")
	path, err := tr.SaveFile(t.TempDir())

	// アサーション
	require.NoError(t, err)
	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "【問題】マイナス在庫", entries[0].Diagnosis)
	assert.Equal(t, "S001", entries[0].Note)
	assert.Equal(t, "【注意】標準単価0", entries[1].Diagnosis)

	assert.Contains(t, path, "trace_run-42.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out struct {
		RunID   string       `json:"run_id"`
		Entries []TraceEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "run-42", out.RunID)
	assert.Len(t, out.Entries, 2)
}
