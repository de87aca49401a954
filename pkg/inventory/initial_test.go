package inventory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

func newInitialFixture(t *testing.T) (*InitialImportService, *memRepository, *memDataSets, *batch.ProcessContext) {
	t.Helper()
	repo := &memRepository{}
	dataSets := newMemDataSets()
	factory := batch.NewDataSetFactory(zap.NewNop(), batch.JST).WithNow(fixedNow)
	manager := batch.NewDataSetManager(dataSets, factory, zap.NewNop())

	jobDate := jstDate(2025, 5, 31)
	ds, err := factory.CreateNew(batch.DataSetParams{
		DataSetID:     "DS_20250531_103000_INIT",
		JobDate:       jobDate,
		ProcessType:   batch.ProcessTypeInit,
		ImportedFiles: []string{"zaiko_202505.csv"},
	})
	require.NoError(t, err)
	require.NoError(t, dataSets.Create(context.Background(), ds))

	pc := &batch.ProcessContext{
		RunID:       "run-init",
		JobDate:     jobDate,
		ProcessType: batch.ProcessTypeInit,
		DataSetID:   ds.DataSetID,
		DataSet:     ds,
	}
	svc := NewInitialImportService(repo, manager, zap.NewNop()).WithNow(fixedNow)
	return svc, repo, dataSets, pc
}

func initialRow(line int, product, qty, amount string) InitialInventoryRow {
	return InitialInventoryRow{
		InventoryKey:  InventoryKey{ProductCode: product},
		LineNumber:    line,
		ProductName:   "みかん",
		Unit:          "箱",
		Quantity:      dec(qty),
		Amount:        dec(amount),
		StandardPrice: dec("120"),
	}
}

func TestInitialImportService_Import(t *testing.T) {
	svc, repo, dataSets, pc := newInitialFixture(t)
	old := InventoryMaster{InventoryKey: keyOf("00009"), JobDate: pc.JobDate, ImportType: batch.ImportTypeInit, IsActive: true}
	repo.rows = []InventoryMaster{old}

	rows := []InitialInventoryRow{
		initialRow(1, "1", "10", "1500"),
		initialRow(2, "00002", "0", "0"),
	}
	rows[1].ProductName = " "
	rows[1].Unit = ""

	// テスト実行
	n, err := svc.Import(context.Background(), pc, rows)

	// アサーション
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, _ := repo.GetActiveInitInventory(context.Background(), pc.JobDate)
	require.Len(t, active, 2)
	first := findRow(active, keyOf("00001"))
	require.NotNil(t, first)
	assert.Equal(t, batch.ImportTypeInit, first.ImportType)
	assert.True(t, first.AveragePrice.Equal(dec("150")))
	assert.True(t, first.PreviousMonthQuantity.Equal(dec("10")))
	assert.True(t, first.PreviousMonthAmount.Equal(dec("1500")))
	assert.Equal(t, pc.DataSetID, first.DataSetID)
	assert.Equal(t, batch.DefaultCreatedBy, first.CreatedBy)

	second := findRow(active, keyOf("00002"))
	require.NotNil(t, second)
	assert.Equal(t, PlaceholderProductName, second.ProductName)
	assert.Equal(t, DefaultUnit, second.Unit)
	assert.True(t, second.AveragePrice.IsZero())

	assert.False(t, repo.rows[0].IsActive)

	stored, err := dataSets.GetByID(context.Background(), pc.DataSetID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RecordCount)
}

func TestInitialImportService_ReplacesCarryoverRowsOfDate(t *testing.T) {
	svc, repo, _, pc := newInitialFixture(t)
	carried := priorRow("00001", "DS_20250531_090000_CARRYOVER", "5", "500")
	carried.JobDate = pc.JobDate
	otherDay := priorRow("00001", "DS_20250530_090000_CARRYOVER", "4", "400")
	otherDay.JobDate = jstDate(2025, 5, 30)
	repo.rows = []InventoryMaster{carried, otherDay}

	// テスト実行
	_, err := svc.Import(context.Background(), pc, []InitialInventoryRow{initialRow(1, "00001", "10", "1500")})

	// アサーション
	require.NoError(t, err)
	active, err := repo.GetActiveByJobDate(context.Background(), pc.JobDate)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, batch.ImportTypeInit, active[0].ImportType)
	assert.True(t, active[0].CurrentStock.Equal(dec("10")))
	assert.True(t, repo.rows[1].IsActive)
}

func TestInitialImportService_RejectsDuplicateKeys(t *testing.T) {
	svc, repo, _, pc := newInitialFixture(t)
	rows := []InitialInventoryRow{
		initialRow(1, "00001", "10", "1000"),
		initialRow(2, "1", "5", "500"),
	}

	// テスト実行
	n, err := svc.Import(context.Background(), pc, rows)

	// アサーション
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
	rowErrs := RowErrors(err)
	require.Len(t, rowErrs, 1)
	assert.Equal(t, 2, rowErrs[0].Line)
	assert.Empty(t, repo.rows)
}

func TestInitialImportService_ReportsEveryInvalidLine(t *testing.T) {
	svc, repo, _, pc := newInitialFixture(t)
	rows := []InitialInventoryRow{
		initialRow(1, "", "10", "1000"),
		initialRow(2, "00002", "10", "1000"),
		initialRow(3, "00003", "0", "100"),
	}

	// テスト実行
	_, err := svc.Import(context.Background(), pc, rows)

	// アサーション
	require.Error(t, err)
	rowErrs := RowErrors(err)
	require.Len(t, rowErrs, 2)
	assert.Equal(t, 1, rowErrs[0].Line)
	assert.Equal(t, 3, rowErrs[1].Line)
	assert.True(t, strings.Contains(err.Error(), "3行目"))
	assert.Empty(t, repo.rows)
}

func TestInitialImportService_EmptyInput(t *testing.T) {
	svc, _, _, pc := newInitialFixture(t)

	// テスト実行
	_, err := svc.Import(context.Background(), pc, nil)

	// アサーション
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestInitialImportService_WorkReadsSource(t *testing.T) {
	svc, repo, _, pc := newInitialFixture(t)
	src := NewCSVSource("zaiko.csv", strings.NewReader("00001,000,000,0000,,みかん,箱,10,1500,120\n"), EncodingUTF8)

	// テスト実行
	msg, err := svc.Work(src)(context.Background(), pc)

	// アサーション
	require.NoError(t, err)
	assert.Equal(t, "前月末在庫取込: 1件 (zaiko.csv)", msg)
	assert.Len(t, repo.rows, 1)
}
