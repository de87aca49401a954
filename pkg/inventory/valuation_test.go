package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func valuationRows() []InventoryMaster {
	a := priorRow("00001", "DS_A", "14", "700")
	b := priorRow("00002", "DS_A", "4", "200")
	b.ProductCategory1 = "02"
	c := priorRow("00003", "DS_A", "3", "60")
	c.ProductCategory1 = ""
	d := priorRow("00004", "DS_A", "2", "40")
	return []InventoryMaster{d, c, b, a}
}

func TestSummarize(t *testing.T) {
	// テスト実行
	v := Summarize(jstDate(2025, 6, 1), valuationRows())

	// アサーション
	assert.Equal(t, 4, v.Rows)
	assert.True(t, dec("23").Equal(v.TotalQuantity))
	assert.True(t, dec("1000").Equal(v.TotalAmount))

	require.Len(t, v.Categories, 3)
	assert.Equal(t, "01", v.Categories[0].Category)
	assert.Equal(t, 2, v.Categories[0].Rows)
	assert.True(t, dec("740").Equal(v.Categories[0].Amount))
	assert.Equal(t, "02", v.Categories[1].Category)
	assert.Equal(t, UncategorizedLabel, v.Categories[2].Category)

	require.Len(t, v.Ranking, 4)
	var order, classes []string
	for _, r := range v.Ranking {
		order = append(order, r.Key.ProductCode)
		classes = append(classes, r.Class)
	}
	assert.Equal(t, []string{"00001", "00002", "00003", "00004"}, order)
	assert.Equal(t, []string{"A", "B", "C", "C"}, classes)
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 2}, v.ClassCounts())
}

func TestSummarize_ZeroTotal(t *testing.T) {
	rows := []InventoryMaster{
		priorRow("00001", "DS_A", "0", "0"),
		priorRow("00002", "DS_A", "0", "0"),
	}

	v := Summarize(jstDate(2025, 6, 1), rows)

	for _, r := range v.Ranking {
		assert.Equal(t, "C", r.Class)
	}
	assert.Equal(t, "00001", v.Ranking[0].Key.ProductCode)
}

func TestValuationService_Evaluate(t *testing.T) {
	repo := new(MockRepository)
	repo.On("GetActiveByJobDate", mock.Anything, jstDate(2025, 6, 1)).Return(valuationRows(), nil).Once()
	svc := NewValuationService(repo, zap.NewNop())

	// テスト実行
	v, err := svc.Evaluate(context.Background(), jstDate(2025, 6, 1))

	// アサーション
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(v.TotalAmount))
	repo.AssertExpectations(t)
}

func TestValuationService_Errors(t *testing.T) {
	t.Run("スナップショットなし", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetActiveByJobDate", mock.Anything, jstDate(2025, 6, 1)).Return([]InventoryMaster{}, nil).Once()

		_, err := NewValuationService(repo, zap.NewNop()).Evaluate(context.Background(), jstDate(2025, 6, 1))

		assert.ErrorIs(t, err, ErrNoActiveSnapshot)
	})

	t.Run("取得失敗", func(t *testing.T) {
		cause := errors.New("接続エラー")
		repo := new(MockRepository)
		repo.On("GetActiveByJobDate", mock.Anything, jstDate(2025, 6, 1)).Return(nil, cause).Once()

		_, err := NewValuationService(repo, zap.NewNop()).Evaluate(context.Background(), jstDate(2025, 6, 1))

		assert.ErrorIs(t, err, cause)
		var se *StorageError
		assert.ErrorAs(t, err, &se)
	})
}
