package inventory

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

const sampleCSV = "商品コード,等級,階級,荷印,荷印名,商品名,単位,数量,金額,標準単価\n" +
	"104,1,2,3,ＡＢＣ,りんご,箱,10,\"1,500\",150\n" +
	"\n" +
	"00200,000,000,0000,,みかん,,0,0,\n"

func TestCSVSource_UTF8WithBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, sampleCSV...)
	src := NewCSVSource("zaiko.csv", bytes.NewReader(data), EncodingAuto)

	// テスト実行
	rows, err := src.Rows(context.Background())

	// アサーション
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, NewInventoryKey("00104", "001", "002", "0003", "ＡＢＣ"), rows[0].InventoryKey)
	assert.Equal(t, "りんご", rows[0].ProductName)
	assert.True(t, rows[0].Amount.Equal(dec("1500")))
	assert.True(t, rows[0].StandardPrice.Equal(dec("150")))
	assert.Equal(t, 2, rows[0].LineNumber)
	assert.Equal(t, 4, rows[1].LineNumber)
	assert.True(t, rows[1].StandardPrice.IsZero())
	assert.Equal(t, "zaiko.csv", src.Name())
}

func TestCSVSource_ShiftJIS(t *testing.T) {
	encoded, err := japanese.ShiftJIS.NewEncoder().String(sampleCSV)
	require.NoError(t, err)

	for _, enc := range []Encoding{EncodingShiftJIS, EncodingAuto} {
		src := NewCSVSource("zaiko_sjis.csv", strings.NewReader(encoded), enc)

		// テスト実行
		rows, err := src.Rows(context.Background())

		// アサーション
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "りんご", rows[0].ProductName)
		assert.Equal(t, "みかん", rows[1].ProductName)
	}
}

func TestCSVSource_CollectsLineErrors(t *testing.T) {
	input := "00001,000,000,0000,,A,箱,abc,0,0\n" +
		"00002,000,000,0000,,B,箱,1,1,1\n" +
		"00003,000\n"
	src := NewCSVSource("bad.csv", strings.NewReader(input), EncodingUTF8)

	// テスト実行
	rows, err := src.Rows(context.Background())

	// アサーション
	assert.Nil(t, rows)
	rowErrs := RowErrors(err)
	require.Len(t, rowErrs, 2)
	assert.Equal(t, 1, rowErrs[0].Line)
	assert.Equal(t, 3, rowErrs[1].Line)
}

func TestCSVSource_HeaderOnlyIsEmpty(t *testing.T) {
	src := NewCSVSource("empty.csv", strings.NewReader("商品コード,等級\n"), EncodingUTF8)

	// テスト実行
	_, err := src.Rows(context.Background())

	// アサーション
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestOpenCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zaiko_202505.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	// テスト実行
	src, err := OpenCSVFile(path, EncodingUTF8)

	// アサーション
	require.NoError(t, err)
	assert.Equal(t, "zaiko_202505.csv", src.Name())
	rows, err := src.Rows(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    Encoding
		wantErr bool
	}{
		{"", EncodingAuto, false},
		{"UTF8", EncodingUTF8, false},
		{"sjis", EncodingShiftJIS, false},
		{"CP932", EncodingShiftJIS, false},
		{"euc-jp", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEncoding(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
