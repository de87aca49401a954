package batch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseProcessType は処理種別の解析テスト
func TestParseProcessType(t *testing.T) {
	tests := map[string]ProcessType{
		"IMPORT":       ProcessTypeImport,
		"carryover":    ProcessTypeCarryover,
		" INIT ":       ProcessTypeInit,
		"daily-close":  ProcessTypeDailyClose,
		"DAILY_REPORT": ProcessTypeDailyReport,
		"unmatch_list": ProcessTypeUnmatchList,
	}
	for in, want := range tests {
		got, err := ParseProcessType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseProcessType("CSV_IMPORT")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

// TestProcessType_Invalid はゼロ値が無効であることのテスト
func TestProcessType_Invalid(t *testing.T) {
	var p ProcessType
	assert.False(t, p.Valid())
	assert.Equal(t, "ProcessType(0)", p.String())

	_, err := p.Value()
	assert.Error(t, err)
	_, err = p.MarshalText()
	assert.Error(t, err)
}

// TestEnums_SQLRoundTrip はDB値との変換テスト
func TestEnums_SQLRoundTrip(t *testing.T) {
	v, err := ProcessTypeDailyClose.Value()
	require.NoError(t, err)
	assert.Equal(t, "DAILY_CLOSE", v)

	var p ProcessType
	require.NoError(t, p.Scan([]byte("CARRYOVER")))
	assert.Equal(t, ProcessTypeCarryover, p)

	var s ProcessStatus
	require.NoError(t, s.Scan("Completed"))
	assert.Equal(t, ProcessStatusCompleted, s)
	assert.Error(t, s.Scan(nil))

	var ds DataSetStatus
	require.NoError(t, ds.Scan("Processing"))
	assert.Equal(t, DataSetStatusProcessing, ds)

	var it ImportType
	require.NoError(t, it.Scan("UNKNOWN"))
	assert.Equal(t, ImportTypeUnknown, it)
	assert.Error(t, it.Scan(42))
}

// TestProcessStatus_Terminal は状態遷移の終端判定テスト
func TestProcessStatus_Terminal(t *testing.T) {
	assert.False(t, ProcessStatusRunning.Terminal())
	assert.True(t, ProcessStatusCompleted.Terminal())
	assert.True(t, ProcessStatusFailed.Terminal())
}

// TestProcessHistory_JSON はJSON表現のテスト
func TestProcessHistory_JSON(t *testing.T) {
	b, err := json.Marshal(ProcessHistory{ID: 1, ProcessType: ProcessTypeCarryover, Status: ProcessStatusRunning})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"process_type":"CARRYOVER"`)
	assert.Contains(t, string(b), `"status":"Running"`)
}
