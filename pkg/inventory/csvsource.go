package inventory

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// Encoding selects how CSVSource decodes its input
type Encoding string

const (
	EncodingAuto     Encoding = ""          // UTF-8 when valid, otherwise Shift_JIS
	EncodingUTF8     Encoding = "utf-8"     // UTF-8（BOM可）
	EncodingShiftJIS Encoding = "shift_jis" // Shift_JIS
)

// ParseEncoding accepts utf-8/utf8, shift_jis/sjis/cp932 and auto.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EncodingAuto, nil
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "shift_jis", "shift-jis", "sjis", "cp932":
		return EncodingShiftJIS, nil
	}
	return "", NewValidationError("encoding", "文字コードは utf-8 または shift_jis を指定してください", s)
}

const (
	csvHeaderMarker = "商品コード"
	csvMinColumns   = 8
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVSource reads the month-end inventory export. Columns are product code,
// grade, class, shipping mark code, shipping mark name, product name, unit,
// quantity, amount and standard price. A first line starting with 商品コード is
// treated as a header.
type CSVSource struct {
	name     string
	r        io.Reader
	encoding Encoding
}

// NewCSVSource wraps r. name is used in log and error messages.
func NewCSVSource(name string, r io.Reader, enc Encoding) *CSVSource {
	return &CSVSource{name: name, r: r, encoding: enc}
}

// OpenCSVFile reads the whole file at path into memory.
func OpenCSVFile(path string, enc Encoding) (*CSVSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ファイルの読込に失敗しました: %w", err)
	}
	return NewCSVSource(filepath.Base(path), bytes.NewReader(data), enc), nil
}

// Name returns the file name
func (s *CSVSource) Name() string {
	return s.name
}

// Rows parses every line. All malformed lines are reported together.
func (s *CSVSource) Rows(ctx context.Context) ([]InitialInventoryRow, error) {
	data, err := io.ReadAll(s.r)
	if err != nil {
		return nil, fmt.Errorf("ファイルの読込に失敗しました: %w", err)
	}
	text, err := s.decode(data)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(text)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var (
		rows []InitialInventoryRow
		errs error
	)
	for n := 0; ; n++ {
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				errs = multierr.Append(errs, NewRowError(pe.Line, pe.Err))
				continue
			}
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if n == 0 && strings.TrimSpace(rec[0]) == csvHeaderMarker {
			continue
		}
		if isBlankRecord(rec) {
			continue
		}
		row, err := parseCSVRecord(rec)
		if err != nil {
			errs = multierr.Append(errs, NewRowError(line, err))
			continue
		}
		row.LineNumber = line
		rows = append(rows, row)
	}
	if errs != nil {
		return nil, errs
	}
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}
	return rows, nil
}

func (s *CSVSource) decode(data []byte) (io.Reader, error) {
	enc := s.encoding
	if enc == EncodingAuto {
		if utf8.Valid(data) {
			enc = EncodingUTF8
		} else {
			enc = EncodingShiftJIS
		}
	}
	switch enc {
	case EncodingUTF8:
		return bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)), nil
	case EncodingShiftJIS:
		return transform.NewReader(bytes.NewReader(data), japanese.ShiftJIS.NewDecoder()), nil
	}
	return nil, NewValidationError("encoding", "未対応の文字コードです", string(enc))
}

func isBlankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseCSVRecord(rec []string) (InitialInventoryRow, error) {
	if len(rec) < csvMinColumns {
		return InitialInventoryRow{}, fmt.Errorf("列数が不足しています（%d列、最低%d列必要）", len(rec), csvMinColumns)
	}
	field := func(i int) string {
		if i < len(rec) {
			return rec[i]
		}
		return ""
	}

	quantity, err := parseDecimal("quantity", field(7))
	if err != nil {
		return InitialInventoryRow{}, err
	}
	amount, err := parseDecimal("amount", field(8))
	if err != nil {
		return InitialInventoryRow{}, err
	}
	price, err := parseDecimal("standard_price", field(9))
	if err != nil {
		return InitialInventoryRow{}, err
	}

	return InitialInventoryRow{
		InventoryKey:  NewInventoryKey(field(0), field(1), field(2), field(3), field(4)),
		ProductName:   strings.TrimSpace(field(5)),
		Unit:          strings.TrimSpace(field(6)),
		Quantity:      quantity,
		Amount:        amount,
		StandardPrice: price,
	}, nil
}

// parseDecimal accepts thousands separators; empty means zero.
func parseDecimal(name, s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewValidationError(name, "数値ではありません", s)
	}
	return d, nil
}
